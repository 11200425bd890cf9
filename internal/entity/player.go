package entity

import (
	"fmt"
	"sync/atomic"

	"github.com/rocketscienceinc/arena-backend/internal/outbox"
)

// PlayerID is the identity a client claims during the handshake.
type PlayerID string

type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

func (that Role) Valid() bool {
	return that == RolePlayer || that == RoleSpectator
}

type Status int32

const (
	StatusConnected Status = iota
	StatusDisconnecting
	StatusGone
)

func (that Status) String() string {
	switch that {
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusGone:
		return "gone"
	default:
		return "unknown"
	}
}

func (that Status) MarshalText() ([]byte, error) {
	return []byte(that.String()), nil
}

func (that *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connected":
		*that = StatusConnected
	case "disconnecting":
		*that = StatusDisconnecting
	case "gone":
		*that = StatusGone
	default:
		return fmt.Errorf("unknown client status %q", text)
	}

	return nil
}

// Client is one attached connection. The registry owns it; the broadcaster only
// writes to Out.
type Client struct {
	ID        string
	Identity  PlayerID
	Role      Role
	SessionID string
	Remote    string

	Out *outbox.Outbox

	status atomic.Int32
}

func NewClient(id string, identity PlayerID, role Role, out *outbox.Outbox) *Client {
	return &Client{
		ID:       id,
		Identity: identity,
		Role:     role,
		Out:      out,
	}
}

func (that *Client) Status() Status {
	return Status(that.status.Load())
}

func (that *Client) SetStatus(status Status) {
	that.status.Store(int32(status))
}

// MarkDisconnecting moves a connected client to disconnecting. It reports false when
// the client was already on its way out.
func (that *Client) MarkDisconnecting() bool {
	return that.status.CompareAndSwap(int32(StatusConnected), int32(StatusDisconnecting))
}

func (that *Client) IsPlayer() bool {
	return that.Role == RolePlayer
}

// Info returns a copy safe to hand out of the arena core.
func (that *Client) Info() ClientInfo {
	return ClientInfo{
		ID:        that.ID,
		Identity:  that.Identity,
		Role:      that.Role,
		SessionID: that.SessionID,
		Remote:    that.Remote,
		Status:    that.Status(),
	}
}

// ClientInfo is the read-only view of a client exposed by the registry.
type ClientInfo struct {
	ID        string   `json:"id"`
	Identity  PlayerID `json:"identity"`
	Role      Role     `json:"role"`
	SessionID string   `json:"session_id"`
	Remote    string   `json:"remote,omitempty"`
	Status    Status   `json:"status"`
}
