// Package broadcast turns committed game versions into per-client frames.
package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/outbox"
	"github.com/rocketscienceinc/arena-backend/internal/protocol"
)

// Mirror receives the public side of every version. It must not block.
type Mirror interface {
	Publish(snapshot entity.PublicSnapshot)
	Remove(sessionID string)
}

// Frame describes a session at one version.
type Frame struct {
	SessionID     string
	Version       uint64
	Status        entity.SessionStatus
	CurrentPlayer entity.PlayerID
	Players       []entity.SeatInfo
	Public        entity.PublicGameState
	Private       entity.PrivateStates
}

type Broadcaster struct {
	logger *slog.Logger
	mirror Mirror
	now    func() time.Time
}

func New(logger *slog.Logger, mirror Mirror) *Broadcaster {
	return &Broadcaster{
		logger: logger.With("component", "broadcast"),
		mirror: mirror,
		now:    time.Now,
	}
}

// State enqueues the view of frame for every recipient. The public view is encoded
// once; a player additionally gets the private state keyed to their own identity.
func (that *Broadcaster) State(frame Frame, recipients []*entity.Client) {
	log := that.logger.With("method", "State", "session_id", frame.SessionID, "version", frame.Version)

	view := protocol.View{
		SessionID:     frame.SessionID,
		Status:        frame.Status,
		CurrentPlayer: frame.CurrentPlayer,
		Players:       frame.Players,
		Public:        frame.Public,
	}

	public, err := protocol.EncodeState(frame.Version, view)
	if err != nil {
		log.Error("failed to encode public view", "error", err)
		return
	}

	for _, client := range recipients {
		data := public

		if client.IsPlayer() {
			if private, ok := frame.Private.For(client.Identity); ok && len(private.Data) > 0 {
				personal := view
				personal.Private = private.Data

				data, err = protocol.EncodeState(frame.Version, personal)
				if err != nil {
					log.Error("failed to encode private view", "error", err, "player", client.Identity)
					continue
				}
			}
		}

		that.pushState(log, client, frame.Version, data)
	}

	if that.mirror != nil {
		that.mirror.Publish(entity.PublicSnapshot{
			SessionID:     frame.SessionID,
			Version:       frame.Version,
			Status:        frame.Status,
			CurrentPlayer: frame.CurrentPlayer,
			Players:       frame.Players,
			Public:        frame.Public,
			UpdatedAt:     that.now(),
		})
	}
}

// Ack confirms a handshake. It is always the first frame a client receives.
func (that *Broadcaster) Ack(client *entity.Client) {
	data, err := protocol.EncodeAck(client.ID, client.SessionID, client.Role)
	if err != nil {
		that.logger.Error("failed to encode ack", "error", err)
		return
	}

	that.push(client, data)
}

// Error reports a rejected message to its sender only.
func (that *Broadcaster) Error(client *entity.Client, seq uint64, reason string) {
	data, err := protocol.EncodeError(seq, reason)
	if err != nil {
		that.logger.Error("failed to encode error", "error", err)
		return
	}

	that.push(client, data)
}

// Turn announces a turn change that did not produce a new version.
func (that *Broadcaster) Turn(version uint64, current entity.PlayerID, status entity.SessionStatus, recipients []*entity.Client) {
	data, err := protocol.EncodeTurn(version, current, status)
	if err != nil {
		that.logger.Error("failed to encode turn", "error", err)
		return
	}

	for _, client := range recipients {
		that.push(client, data)
	}
}

// End tells every recipient the session is over. final must hold public data only.
func (that *Broadcaster) End(sessionID, reason string, final json.RawMessage, recipients []*entity.Client) {
	data, err := protocol.EncodeSessionEnd(reason, final)
	if err != nil {
		that.logger.Error("failed to encode session end", "error", err)
		return
	}

	for _, client := range recipients {
		that.push(client, data)
	}

	if that.mirror != nil {
		that.mirror.Remove(sessionID)
	}
}

func (that *Broadcaster) push(client *entity.Client, data []byte) {
	if err := client.Out.Push(data); err != nil {
		that.failed(that.logger, client, err)
	}
}

// failed handles an outbox that refused a frame. An overflowed outbox is already
// closed, its write pump drops the connection and the client goes through detach.
func (that *Broadcaster) failed(log *slog.Logger, client *entity.Client, err error) {
	switch {
	case errors.Is(err, outbox.ErrClosed):
	case errors.Is(err, outbox.ErrOverflow):
		client.MarkDisconnecting()
		log.Warn("slow consumer, disconnecting", "client_id", client.ID, "identity", client.Identity)
	default:
		log.Warn("failed to enqueue frame", "error", err, "client_id", client.ID)
	}
}

func (that *Broadcaster) pushState(log *slog.Logger, client *entity.Client, version uint64, data []byte) {
	dropped := client.Out.Dropped()

	accepted, err := client.Out.PushState(version, data)
	if err != nil {
		that.failed(log, client, err)
		return
	}

	if !accepted {
		log.Debug("version already sent", "client_id", client.ID)
		return
	}

	if n := client.Out.Dropped() - dropped; n > 0 {
		log.Warn("slow client, dropped stale versions", "client_id", client.ID, "dropped", n)
	}
}
