package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/arena-backend/internal/apperror"
	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

func TestParseHandshake(t *testing.T) {
	t.Run("Accepts a player handshake without type", func(t *testing.T) {
		// Given: a minimal handshake
		data := []byte(`{"protocol_version":1,"identity":"alice","role":"player"}`)

		// When: it is parsed
		hs, err := ParseHandshake(data)

		// Then: the fields are decoded
		require.NoError(t, err)
		assert.Equal(t, entity.PlayerID("alice"), hs.Identity)
		assert.Equal(t, entity.RolePlayer, hs.Role)
		assert.Empty(t, hs.SessionID)
	})

	tests := []struct {
		name string
		data string
		want error
	}{
		{"wrong version", `{"type":"handshake","protocol_version":2,"identity":"alice","role":"player"}`, apperror.ErrProtocolVersion},
		{"missing version", `{"identity":"alice","role":"player"}`, apperror.ErrProtocolVersion},
		{"empty identity", `{"protocol_version":1,"identity":"","role":"player"}`, apperror.ErrMalformedIdentity},
		{"identity with spaces", `{"protocol_version":1,"identity":"al ice","role":"player"}`, apperror.ErrMalformedIdentity},
		{"unknown role", `{"protocol_version":1,"identity":"alice","role":"referee"}`, apperror.ErrUnknownRole},
		{"spectator without session", `{"protocol_version":1,"identity":"eve","role":"spectator"}`, apperror.ErrSpectatorNeedsSession},
		{"move before handshake", `{"type":"move","seq":1,"payload":{}}`, apperror.ErrHandshakeRequired},
		{"not json", `hello`, apperror.ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run("Rejects "+tt.name, func(t *testing.T) {
			_, err := ParseHandshake([]byte(tt.data))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateIdentity(t *testing.T) {
	assert.NoError(t, ValidateIdentity("bot_1.v2-final"))
	assert.NoError(t, ValidateIdentity(entity.PlayerID(strings.Repeat("a", MaxIdentityLength))))
	assert.ErrorIs(t, ValidateIdentity(entity.PlayerID(strings.Repeat("a", MaxIdentityLength+1))), apperror.ErrMalformedIdentity)
	assert.ErrorIs(t, ValidateIdentity("ünicode"), apperror.ErrMalformedIdentity)
}

func TestDecode(t *testing.T) {
	t.Run("Decodes a move", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"move","seq":3,"payload":{"cell":4}}`))

		require.NoError(t, err)
		assert.Equal(t, TypeMove, msg.Type)
		assert.Equal(t, uint64(3), msg.Seq)
		assert.JSONEq(t, `{"cell":4}`, string(msg.Payload))
	})

	t.Run("Decodes a log line", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"log","message":"thinking"}`))

		require.NoError(t, err)
		assert.Equal(t, "thinking", msg.Message)
	})

	t.Run("Rejects moves without payload", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"move","seq":1}`))
		require.ErrorIs(t, err, apperror.ErrMalformedMessage)
	})

	t.Run("Rejects unknown types", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"chat"}`))
		require.ErrorIs(t, err, apperror.ErrUnknownMessage)
	})

	t.Run("Rejects garbage", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":`))
		require.ErrorIs(t, err, apperror.ErrMalformedMessage)
	})
}

func TestEncode(t *testing.T) {
	t.Run("Error carries the offending seq", func(t *testing.T) {
		data, err := EncodeError(7, "not your turn")

		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"error","seq":7,"reason":"not your turn"}`, string(data))
	})

	t.Run("Error without seq omits it", func(t *testing.T) {
		data, err := EncodeError(0, "malformed message")

		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"error","reason":"malformed message"}`, string(data))
	})

	t.Run("State without private view omits the field", func(t *testing.T) {
		// Given: a spectator view
		view := View{
			SessionID:     "s1",
			Status:        entity.SessionAwaitingMove,
			CurrentPlayer: "alice",
			Players:       []entity.SeatInfo{{Player: "alice", Status: entity.StatusConnected}},
			Public:        entity.PublicGameState(`{"board":[]}`),
		}

		// When: it is encoded
		data, err := EncodeState(1, view)
		require.NoError(t, err)

		// Then: there is no private key
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &raw))

		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw["view"], &decoded))
		assert.NotContains(t, decoded, "private")
		assert.JSONEq(t, `{"board":[]}`, string(decoded["public"]))
		assert.JSONEq(t, `[{"id":"alice","status":"connected"}]`, string(decoded["players"]))
	})

	t.Run("Ack reports the protocol version", func(t *testing.T) {
		data, err := EncodeAck("c1", "s1", entity.RolePlayer)

		require.NoError(t, err)
		assert.JSONEq(t,
			`{"type":"handshake_ack","client_id":"c1","session_id":"s1","protocol_version":1,"role":"player"}`,
			string(data))
	})
}
