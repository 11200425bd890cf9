package tictactoe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

func cell(n int) json.RawMessage {
	return json.RawMessage(`{"cell":` + string(rune('0'+n)) + `}`)
}

func TestEngine_Start(t *testing.T) {
	t.Run("Assigns X to the first seat and O to the second", func(t *testing.T) {
		// Given: a tic-tac-toe engine
		engine := NewEngine()

		// When: a game starts for alice and bob
		out, err := engine.Start([]entity.PlayerID{"alice", "bob"})
		require.NoError(t, err)

		// Then: each private view carries the player's own mark
		alice, ok := out.Private.For("alice")
		require.True(t, ok)
		assert.JSONEq(t, `{"mark":"X","legal_moves":[0,1,2,3,4,5,6,7,8]}`, string(alice.Data))

		bob, ok := out.Private.For("bob")
		require.True(t, ok)
		assert.JSONEq(t, `{"mark":"O","legal_moves":[0,1,2,3,4,5,6,7,8]}`, string(bob.Data))
		assert.False(t, out.Terminal)
	})

	t.Run("Rejects a roster of the wrong size", func(t *testing.T) {
		_, err := NewEngine().Start([]entity.PlayerID{"alice"})
		require.Error(t, err)
	})
}

func TestEngine_Apply(t *testing.T) {
	players := []entity.PlayerID{"alice", "bob"}

	t.Run("Applies a move without touching the previous state", func(t *testing.T) {
		// Given: a started game
		engine := NewEngine()
		start, err := engine.Start(players)
		require.NoError(t, err)

		// When: alice plays the center
		out, err := engine.Apply(start.State, "alice", cell(4))
		require.NoError(t, err)

		// Then: the public board shows the move
		var view publicView
		require.NoError(t, json.Unmarshal(out.Public, &view))
		assert.Equal(t, PlayerX, view.Board[4])

		// And: the starting state is unchanged
		assert.Equal(t, EmptyCell, start.State.(state).Game.Board[4])
	})

	t.Run("Rejects malformed payloads", func(t *testing.T) {
		engine := NewEngine()
		start, err := engine.Start(players)
		require.NoError(t, err)

		_, err = engine.Apply(start.State, "alice", json.RawMessage(`{"row":1}`))
		require.ErrorIs(t, err, ErrBadPayload)
	})

	t.Run("Rejects players that are not seated", func(t *testing.T) {
		engine := NewEngine()
		start, err := engine.Start(players)
		require.NoError(t, err)

		_, err = engine.Apply(start.State, "mallory", cell(0))
		require.ErrorIs(t, err, ErrNotSeated)
	})

	t.Run("Reports the winner when the game ends", func(t *testing.T) {
		// Given: a game where alice is one move from the top row
		engine := NewEngine()
		out, err := engine.Start(players)
		require.NoError(t, err)

		for _, step := range []struct {
			player entity.PlayerID
			cell   int
		}{{"alice", 0}, {"bob", 3}, {"alice", 1}, {"bob", 4}} {
			out, err = engine.Apply(out.State, step.player, cell(step.cell))
			require.NoError(t, err)
		}

		// When: alice completes the row
		out, err = engine.Apply(out.State, "alice", cell(2))
		require.NoError(t, err)

		// Then: the outcome is terminal and names alice
		assert.True(t, out.Terminal)
		assert.JSONEq(t, `{"winner":"alice","draw":false}`, string(out.Result))
	})
}
