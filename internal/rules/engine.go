// Package rules defines the contract between the arena and a game's rules engine.
// The arena never looks inside a game state: it stores what the engine returns and
// forwards the projections to clients.
package rules

import (
	"encoding/json"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

// State is an engine-owned game state. Engines must treat a State they returned as
// immutable and build a new value for every outcome.
type State any

// Outcome is the result of starting a game or applying a move.
type Outcome struct {
	State   State
	Public  entity.PublicGameState
	Private entity.PrivateStates

	// Terminal marks a finished game. Result carries the engine's final verdict.
	Terminal bool
	Result   json.RawMessage
}

// Engine validates and applies moves for one kind of game.
type Engine interface {
	Name() string

	// Players returns the accepted roster size.
	Players() (minPlayers, maxPlayers int)

	// Start builds the initial state for players in turn order.
	Start(players []entity.PlayerID) (Outcome, error)

	// Apply applies a move by player to state. Turn order is enforced by the arena,
	// Apply only judges legality and effect.
	Apply(state State, player entity.PlayerID, payload json.RawMessage) (Outcome, error)
}
