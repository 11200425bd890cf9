// Package protocol defines the JSON messages exchanged with arena clients.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rocketscienceinc/arena-backend/internal/apperror"
	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

const (
	ProtocolVersion   = 1
	MaxIdentityLength = 64
)

// client messages
const (
	TypeHandshake = "handshake"
	TypeMove      = "move"
	TypeLog       = "log"
)

// server messages
const (
	TypeHandshakeAck = "handshake_ack"
	TypeReject       = "reject"
	TypeState        = "state"
	TypeError        = "error"
	TypeTurn         = "turn"
	TypeSessionEnd   = "session_end"
)

// Message is any frame sent by a client. Fields not used by Type are ignored.
type Message struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

type Handshake struct {
	Type            string          `json:"type,omitempty"`
	ProtocolVersion int             `json:"protocol_version"`
	Identity        entity.PlayerID `json:"identity"`
	Role            entity.Role     `json:"role"`
	SessionID       string          `json:"session_id,omitempty"`
}

type HandshakeAck struct {
	Type            string      `json:"type"`
	ClientID        string      `json:"client_id"`
	SessionID       string      `json:"session_id"`
	ProtocolVersion int         `json:"protocol_version"`
	Role            entity.Role `json:"role"`
}

type Reject struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// View is what one client is allowed to see of a session at a given version.
type View struct {
	SessionID     string                 `json:"session_id"`
	Status        entity.SessionStatus   `json:"status"`
	CurrentPlayer entity.PlayerID        `json:"current_player,omitempty"`
	Players       []entity.SeatInfo      `json:"players"`
	Public        entity.PublicGameState `json:"public"`
	Private       json.RawMessage        `json:"private,omitempty"`
}

type State struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
	View    View   `json:"view"`
}

type Error struct {
	Type   string  `json:"type"`
	Seq    *uint64 `json:"seq,omitempty"`
	Reason string  `json:"reason"`
}

type Turn struct {
	Type          string               `json:"type"`
	Version       uint64               `json:"version"`
	CurrentPlayer entity.PlayerID      `json:"current_player,omitempty"`
	Status        entity.SessionStatus `json:"status"`
}

type SessionEnd struct {
	Type       string          `json:"type"`
	Reason     string          `json:"reason"`
	FinalState json.RawMessage `json:"final_state,omitempty"`
}

// ParseHandshake decodes and validates the first frame of a connection.
func ParseHandshake(data []byte) (Handshake, error) {
	var hs Handshake

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&hs); err != nil {
		return Handshake{}, fmt.Errorf("%w: %w", apperror.ErrMalformedMessage, err)
	}

	if hs.Type != "" && hs.Type != TypeHandshake {
		return Handshake{}, fmt.Errorf("%w: got %q", apperror.ErrHandshakeRequired, hs.Type)
	}

	if err := hs.Validate(); err != nil {
		return Handshake{}, err
	}

	return hs, nil
}

func (that Handshake) Validate() error {
	if that.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: %d, want %d", apperror.ErrProtocolVersion, that.ProtocolVersion, ProtocolVersion)
	}

	if err := ValidateIdentity(that.Identity); err != nil {
		return err
	}

	if !that.Role.Valid() {
		return fmt.Errorf("%w: %q", apperror.ErrUnknownRole, that.Role)
	}

	if that.Role == entity.RoleSpectator && that.SessionID == "" {
		return apperror.ErrSpectatorNeedsSession
	}

	return nil
}

// ValidateIdentity accepts 1 to 64 characters of letters, digits, '-', '_' and '.'.
func ValidateIdentity(id entity.PlayerID) error {
	if id == "" || len(id) > MaxIdentityLength {
		return fmt.Errorf("%w: length %d", apperror.ErrMalformedIdentity, len(id))
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: unexpected character %q", apperror.ErrMalformedIdentity, r)
		}
	}

	return nil
}

// Decode parses a client frame received after the handshake.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", apperror.ErrMalformedMessage, err)
	}

	switch msg.Type {
	case TypeMove:
		if len(msg.Payload) == 0 {
			return Message{}, fmt.Errorf("%w: move without payload", apperror.ErrMalformedMessage)
		}
	case TypeLog:
	case "":
		return Message{}, fmt.Errorf("%w: missing type", apperror.ErrMalformedMessage)
	default:
		return Message{}, fmt.Errorf("%w: %q", apperror.ErrUnknownMessage, msg.Type)
	}

	return msg, nil
}

func EncodeAck(clientID, sessionID string, role entity.Role) ([]byte, error) {
	return json.Marshal(HandshakeAck{
		Type:            TypeHandshakeAck,
		ClientID:        clientID,
		SessionID:       sessionID,
		ProtocolVersion: ProtocolVersion,
		Role:            role,
	})
}

func EncodeReject(reason string) ([]byte, error) {
	return json.Marshal(Reject{Type: TypeReject, Reason: reason})
}

func EncodeState(version uint64, view View) ([]byte, error) {
	return json.Marshal(State{Type: TypeState, Version: version, View: view})
}

// EncodeError reports a rejected message. seq is omitted when the offending frame had none.
func EncodeError(seq uint64, reason string) ([]byte, error) {
	msg := Error{Type: TypeError, Reason: reason}
	if seq > 0 {
		msg.Seq = &seq
	}

	return json.Marshal(msg)
}

func EncodeTurn(version uint64, current entity.PlayerID, status entity.SessionStatus) ([]byte, error) {
	return json.Marshal(Turn{Type: TypeTurn, Version: version, CurrentPlayer: current, Status: status})
}

func EncodeSessionEnd(reason string, final json.RawMessage) ([]byte, error) {
	return json.Marshal(SessionEnd{Type: TypeSessionEnd, Reason: reason, FinalState: final})
}
