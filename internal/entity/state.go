package entity

import (
	"encoding/json"
	"time"
)

// PublicGameState is the projection of a game every participant and spectator may see.
type PublicGameState json.RawMessage

func (that PublicGameState) MarshalJSON() ([]byte, error) {
	if len(that) == 0 {
		return []byte("null"), nil
	}
	return that, nil
}

func (that *PublicGameState) UnmarshalJSON(data []byte) error {
	*that = append((*that)[:0], data...)
	return nil
}

// PrivateGameState is the part of a game visible to a single player only. The
// player it belongs to travels with the data so a view can be checked against its
// recipient.
type PrivateGameState struct {
	Player PlayerID        `json:"player"`
	Data   json.RawMessage `json:"data"`
}

func NewPrivateGameState(player PlayerID, data json.RawMessage) PrivateGameState {
	return PrivateGameState{Player: player, Data: data}
}

// PrivateStates holds the private projections of one state version.
type PrivateStates map[PlayerID]PrivateGameState

// For returns the private state of player. A state stored under the wrong key is
// never returned.
func (that PrivateStates) For(player PlayerID) (PrivateGameState, bool) {
	state, ok := that[player]
	if !ok || state.Player != player {
		return PrivateGameState{}, false
	}

	return state, true
}

// Move is a player's submission. Seq is assigned by the client and grows with every
// new move, a repeated Seq marks a resubmission.
type Move struct {
	Player  PlayerID        `json:"player"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// HistoryEntry records an applied move and the version it produced.
type HistoryEntry struct {
	Version   uint64          `json:"version"`
	Player    PlayerID        `json:"player"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
	AppliedAt time.Time       `json:"applied_at"`
}

type SessionStatus string

const (
	SessionWaiting      SessionStatus = "waiting"
	SessionAwaitingMove SessionStatus = "awaiting_move"
	SessionApplying     SessionStatus = "applying"
	SessionPaused       SessionStatus = "paused"
	SessionFinished     SessionStatus = "finished"
)

// SeatInfo describes one player slot of a session.
type SeatInfo struct {
	Player PlayerID `json:"id"`
	Status Status   `json:"status"`
}

// PublicSnapshot is the part of a session that may leave the process: it never
// carries private state.
type PublicSnapshot struct {
	SessionID     string          `json:"session_id"`
	Version       uint64          `json:"version"`
	Status        SessionStatus   `json:"status"`
	CurrentPlayer PlayerID        `json:"current_player,omitempty"`
	Players       []SeatInfo      `json:"players"`
	Public        PublicGameState `json:"public"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
