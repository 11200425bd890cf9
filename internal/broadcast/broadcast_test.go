package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/outbox"
	"github.com/rocketscienceinc/arena-backend/internal/protocol"
)

type mirrorMock struct {
	mock.Mock
}

func (that *mirrorMock) Publish(snapshot entity.PublicSnapshot) {
	that.Called(snapshot)
}

func (that *mirrorMock) Remove(sessionID string) {
	that.Called(sessionID)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(id string, identity entity.PlayerID, role entity.Role) *entity.Client {
	client := entity.NewClient(id, identity, role, outbox.New(8))
	client.SessionID = "s1"
	return client
}

func drain(t *testing.T, client *entity.Client) []outbox.Frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frames, err := client.Out.Next(ctx)
	require.NoError(t, err)

	return frames
}

func decodeView(t *testing.T, data []byte) protocol.State {
	t.Helper()

	var st protocol.State
	require.NoError(t, json.Unmarshal(data, &st))

	return st
}

func testFrame(version uint64) Frame {
	return Frame{
		SessionID:     "s1",
		Version:       version,
		Status:        entity.SessionAwaitingMove,
		CurrentPlayer: "alice",
		Players: []entity.SeatInfo{
			{Player: "alice", Status: entity.StatusConnected},
			{Player: "bob", Status: entity.StatusConnected},
		},
		Public: entity.PublicGameState(`{"total":1}`),
		Private: entity.PrivateStates{
			"alice": entity.NewPrivateGameState("alice", json.RawMessage(`{"secret":"a"}`)),
			"bob":   entity.NewPrivateGameState("bob", json.RawMessage(`{"secret":"b"}`)),
		},
	}
}

func TestBroadcaster_State(t *testing.T) {
	t.Run("Every player sees only their own private state", func(t *testing.T) {
		// Given: two players and a spectator
		alice := newClient("c1", "alice", entity.RolePlayer)
		bob := newClient("c2", "bob", entity.RolePlayer)
		eve := newClient("c3", "eve", entity.RoleSpectator)

		// When: version 1 is broadcast
		New(discard(), nil).State(testFrame(1), []*entity.Client{alice, bob, eve})

		// Then: each player gets their own secret
		aliceView := decodeView(t, drain(t, alice)[0].Data)
		assert.JSONEq(t, `{"secret":"a"}`, string(aliceView.View.Private))

		bobView := decodeView(t, drain(t, bob)[0].Data)
		assert.JSONEq(t, `{"secret":"b"}`, string(bobView.View.Private))

		// And: the spectator gets the public view only
		eveFrames := drain(t, eve)
		eveView := decodeView(t, eveFrames[0].Data)
		assert.Empty(t, eveView.View.Private)
		assert.JSONEq(t, `{"total":1}`, string(eveView.View.Public))
		assert.NotContains(t, string(eveFrames[0].Data), "secret")
	})

	t.Run("A spectator claiming a player's identity gets no private state", func(t *testing.T) {
		// Given: a spectator named alice
		impostor := newClient("c9", "alice", entity.RoleSpectator)

		// When: a version is broadcast
		New(discard(), nil).State(testFrame(1), []*entity.Client{impostor})

		// Then: nothing private is enqueued
		frames := drain(t, impostor)
		require.Len(t, frames, 1)
		assert.NotContains(t, string(frames[0].Data), "secret")
	})

	t.Run("A private state keyed to someone else is never delivered", func(t *testing.T) {
		// Given: a private map whose entry for bob holds alice's data
		frame := testFrame(1)
		frame.Private["bob"] = entity.NewPrivateGameState("alice", json.RawMessage(`{"secret":"a"}`))
		bob := newClient("c2", "bob", entity.RolePlayer)

		// When: the version is broadcast
		New(discard(), nil).State(frame, []*entity.Client{bob})

		// Then: bob gets the public view only
		assert.NotContains(t, string(drain(t, bob)[0].Data), "secret")
	})

	t.Run("A version is sent once per client", func(t *testing.T) {
		alice := newClient("c1", "alice", entity.RolePlayer)
		caster := New(discard(), nil)

		caster.State(testFrame(1), []*entity.Client{alice})
		caster.State(testFrame(1), []*entity.Client{alice})

		assert.Len(t, drain(t, alice), 1)
	})

	t.Run("The mirror receives public data only", func(t *testing.T) {
		// Given: a mirror
		mirror := &mirrorMock{}
		mirror.On("Publish", mock.MatchedBy(func(snap entity.PublicSnapshot) bool {
			return snap.SessionID == "s1" && snap.Version == 2 && string(snap.Public) == `{"total":1}`
		})).Once()

		// When: a version is broadcast to nobody
		New(discard(), mirror).State(testFrame(2), nil)

		// Then: the mirror saw it
		mirror.AssertExpectations(t)
	})
}

func TestBroadcaster_Control(t *testing.T) {
	t.Run("Ack precedes state", func(t *testing.T) {
		alice := newClient("c1", "alice", entity.RolePlayer)
		caster := New(discard(), nil)

		caster.Ack(alice)
		caster.State(testFrame(0), []*entity.Client{alice})

		frames := drain(t, alice)
		require.Len(t, frames, 2)
		assert.Contains(t, string(frames[0].Data), protocol.TypeHandshakeAck)
		assert.Contains(t, string(frames[1].Data), protocol.TypeState)
	})

	t.Run("Error goes to its recipient", func(t *testing.T) {
		bob := newClient("c2", "bob", entity.RolePlayer)

		New(discard(), nil).Error(bob, 4, "not your turn")

		frames := drain(t, bob)
		assert.JSONEq(t, `{"type":"error","seq":4,"reason":"not your turn"}`, string(frames[0].Data))
	})

	t.Run("End notifies everyone and clears the mirror", func(t *testing.T) {
		alice := newClient("c1", "alice", entity.RolePlayer)
		eve := newClient("c3", "eve", entity.RoleSpectator)
		mirror := &mirrorMock{}
		mirror.On("Remove", "s1").Once()

		New(discard(), mirror).End("s1", "finished", json.RawMessage(`{"total":3}`), []*entity.Client{alice, eve})

		for _, client := range []*entity.Client{alice, eve} {
			frames := drain(t, client)
			assert.JSONEq(t, `{"type":"session_end","reason":"finished","final_state":{"total":3}}`, string(frames[0].Data))
		}
		mirror.AssertExpectations(t)
	})

	t.Run("Closed outboxes are ignored", func(t *testing.T) {
		alice := newClient("c1", "alice", entity.RolePlayer)
		alice.Out.Close()

		assert.NotPanics(t, func() {
			caster := New(discard(), nil)
			caster.Ack(alice)
			caster.State(testFrame(1), []*entity.Client{alice})
		})
	})
}

func TestBroadcaster_SlowConsumer(t *testing.T) {
	// Given: a client whose outbox holds four frames and is never read
	caster := New(discard(), nil)
	slow := entity.NewClient("c1", "bob", entity.RolePlayer, outbox.New(1))
	fast := newClient("c2", "alice", entity.RolePlayer)

	// When: errors keep coming for the slow client
	for seq := uint64(1); seq <= 10; seq++ {
		caster.Error(slow, seq, "not your turn")
	}
	caster.Ack(fast)

	// Then: its outbox overflowed and it is marked for disconnect
	assert.True(t, slow.Out.Overflowed())
	assert.Equal(t, entity.StatusDisconnecting, slow.Status())
	assert.Equal(t, 4, slow.Out.Len())

	// And: other clients are untouched
	assert.Equal(t, entity.StatusConnected, fast.Status())
	assert.Len(t, drain(t, fast), 1)
}
