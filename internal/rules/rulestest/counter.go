// Package rulestest provides a small deterministic rules engine for tests.
package rulestest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/rules"
)

var ErrNonPositive = errors.New("add must be positive")

// CounterState is the state of a Counter game.
type CounterState struct {
	Total int
	Last  entity.PlayerID
	Order []entity.PlayerID
}

// Counter is a race to Target: each move adds a positive amount to a shared total.
// Every player has a private secret derived from their identity, which makes leaks
// easy to spot.
type Counter struct {
	Target     int
	MinPlayers int
	MaxPlayers int
}

func NewCounter(target int) *Counter {
	return &Counter{Target: target, MinPlayers: 2, MaxPlayers: 4}
}

func Secret(player entity.PlayerID) string {
	return "secret-" + string(player)
}

func Add(n int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"add":%d}`, n))
}

func (that *Counter) Name() string {
	return "counter"
}

func (that *Counter) Players() (int, int) {
	return that.MinPlayers, that.MaxPlayers
}

func (that *Counter) Start(players []entity.PlayerID) (rules.Outcome, error) {
	return that.outcome(CounterState{Order: append([]entity.PlayerID(nil), players...)})
}

func (that *Counter) Apply(current rules.State, player entity.PlayerID, payload json.RawMessage) (rules.Outcome, error) {
	st, ok := current.(CounterState)
	if !ok {
		return rules.Outcome{}, fmt.Errorf("unexpected state %T", current)
	}

	var move struct {
		Add int `json:"add"`
	}
	if err := json.Unmarshal(payload, &move); err != nil {
		return rules.Outcome{}, fmt.Errorf("bad payload: %w", err)
	}

	if move.Add <= 0 {
		return rules.Outcome{}, ErrNonPositive
	}

	st.Total += move.Add
	st.Last = player

	return that.outcome(st)
}

func (that *Counter) outcome(st CounterState) (rules.Outcome, error) {
	public, err := json.Marshal(map[string]any{"total": st.Total, "last": st.Last})
	if err != nil {
		return rules.Outcome{}, err
	}

	private := make(entity.PrivateStates, len(st.Order))
	for _, player := range st.Order {
		data, err := json.Marshal(map[string]any{"secret": Secret(player)})
		if err != nil {
			return rules.Outcome{}, err
		}
		private[player] = entity.NewPrivateGameState(player, data)
	}

	out := rules.Outcome{
		State:    st,
		Public:   public,
		Private:  private,
		Terminal: that.Target > 0 && st.Total >= that.Target,
	}

	if out.Terminal {
		out.Result, _ = json.Marshal(map[string]any{"winner": st.Last})
	}

	return out, nil
}
