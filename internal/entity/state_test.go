package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateStates_For(t *testing.T) {
	t.Run("Returns the state keyed to the player", func(t *testing.T) {
		// Given: private states for two players
		states := PrivateStates{
			"alice": NewPrivateGameState("alice", json.RawMessage(`{"hand":[1]}`)),
			"bob":   NewPrivateGameState("bob", json.RawMessage(`{"hand":[2]}`)),
		}

		// When: alice's state is requested
		state, ok := states.For("alice")

		// Then: only alice's data comes back
		require.True(t, ok)
		assert.Equal(t, PlayerID("alice"), state.Player)
		assert.JSONEq(t, `{"hand":[1]}`, string(state.Data))
	})

	t.Run("Refuses a state stored under another player's key", func(t *testing.T) {
		// Given: bob's state stored under alice's key
		states := PrivateStates{
			"alice": NewPrivateGameState("bob", json.RawMessage(`{"hand":[2]}`)),
		}

		// When: alice's state is requested
		_, ok := states.For("alice")

		// Then: nothing is returned
		assert.False(t, ok)
	})

	t.Run("Unknown player has no state", func(t *testing.T) {
		_, ok := PrivateStates{}.For("carol")
		assert.False(t, ok)
	})
}

func TestClient_Status(t *testing.T) {
	t.Run("New client is connected", func(t *testing.T) {
		client := NewClient("c1", "alice", RolePlayer, nil)
		assert.Equal(t, StatusConnected, client.Status())
	})

	t.Run("MarkDisconnecting only succeeds once", func(t *testing.T) {
		// Given: a connected client
		client := NewClient("c1", "alice", RolePlayer, nil)

		// When: it is marked twice
		first := client.MarkDisconnecting()
		second := client.MarkDisconnecting()

		// Then: only the first call wins
		assert.True(t, first)
		assert.False(t, second)
		assert.Equal(t, StatusDisconnecting, client.Status())
	})

	t.Run("Info is a copy", func(t *testing.T) {
		// Given: a client and its info
		client := NewClient("c1", "alice", RolePlayer, nil)
		info := client.Info()

		// When: the copy is changed
		info.Identity = "mallory"

		// Then: the client is untouched
		assert.Equal(t, PlayerID("alice"), client.Identity)
	})
}

func TestStatus_MarshalText(t *testing.T) {
	data, err := json.Marshal(SeatInfo{Player: "alice", Status: StatusGone})

	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"alice","status":"gone"}`, string(data))
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RolePlayer.Valid())
	assert.True(t, RoleSpectator.Valid())
	assert.False(t, Role("referee").Valid())
}
