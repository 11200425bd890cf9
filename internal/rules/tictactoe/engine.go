package tictactoe

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/rules"
)

var (
	ErrNotSeated    = errors.New("player is not seated")
	ErrBadPayload   = errors.New("payload must be {\"cell\": n}")
	ErrUnknownState = errors.New("unknown state type")
)

// state is what the engine hands to the arena. Marks is shared between versions and
// never modified after Start.
type state struct {
	Game  Game
	Marks map[entity.PlayerID]string
	Order []entity.PlayerID
}

type turnPayload struct {
	Cell *int `json:"cell"`
}

type publicView struct {
	Board   [9]string                  `json:"board"`
	Marks   map[entity.PlayerID]string `json:"marks"`
	Status  string                     `json:"status"`
	Winner  string                     `json:"winner,omitempty"`
	Players []entity.PlayerID          `json:"players"`
}

type privateView struct {
	Mark       string `json:"mark"`
	LegalMoves []int  `json:"legal_moves"`
}

type result struct {
	Winner entity.PlayerID `json:"winner,omitempty"`
	Draw   bool            `json:"draw"`
}

// Engine plays classic tic-tac-toe: the first seat plays X, the second O.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

func (that *Engine) Name() string {
	return "tictactoe"
}

func (that *Engine) Players() (int, int) {
	return 2, 2
}

func (that *Engine) Start(players []entity.PlayerID) (rules.Outcome, error) {
	if len(players) != 2 {
		return rules.Outcome{}, fmt.Errorf("tictactoe needs 2 players, got %d", len(players))
	}

	st := state{
		Game: NewGame(),
		Marks: map[entity.PlayerID]string{
			players[0]: PlayerX,
			players[1]: PlayerO,
		},
		Order: append([]entity.PlayerID(nil), players...),
	}

	return that.outcome(st)
}

func (that *Engine) Apply(current rules.State, player entity.PlayerID, payload json.RawMessage) (rules.Outcome, error) {
	st, ok := current.(state)
	if !ok {
		return rules.Outcome{}, fmt.Errorf("%w: %T", ErrUnknownState, current)
	}

	mark, ok := st.Marks[player]
	if !ok {
		return rules.Outcome{}, fmt.Errorf("%w: %s", ErrNotSeated, player)
	}

	var turn turnPayload
	if err := json.Unmarshal(payload, &turn); err != nil || turn.Cell == nil {
		return rules.Outcome{}, ErrBadPayload
	}

	game, err := st.Game.MakeTurn(mark, *turn.Cell)
	if err != nil {
		return rules.Outcome{}, err
	}

	st.Game = game

	return that.outcome(st)
}

func (that *Engine) outcome(st state) (rules.Outcome, error) {
	public, err := json.Marshal(publicView{
		Board:   st.Game.Board,
		Marks:   st.Marks,
		Status:  st.Game.Status,
		Winner:  st.Game.Winner,
		Players: st.Order,
	})
	if err != nil {
		return rules.Outcome{}, fmt.Errorf("failed to marshal public view: %w", err)
	}

	legal := st.Game.FreeCells()
	if st.Game.IsFinished() {
		legal = []int{}
	}

	private := make(entity.PrivateStates, len(st.Marks))
	for player, mark := range st.Marks {
		data, err := json.Marshal(privateView{Mark: mark, LegalMoves: legal})
		if err != nil {
			return rules.Outcome{}, fmt.Errorf("failed to marshal private view: %w", err)
		}
		private[player] = entity.NewPrivateGameState(player, data)
	}

	out := rules.Outcome{
		State:    st,
		Public:   public,
		Private:  private,
		Terminal: st.Game.IsFinished(),
	}

	if out.Terminal {
		res := result{Draw: st.Game.Winner == PlayerTie}
		for player, mark := range st.Marks {
			if mark == st.Game.Winner {
				res.Winner = player
			}
		}

		if out.Result, err = json.Marshal(res); err != nil {
			return rules.Outcome{}, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	return out, nil
}
