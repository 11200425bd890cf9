package arena

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/arena-backend/internal/apperror"
	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/outbox"
	"github.com/rocketscienceinc/arena-backend/internal/protocol"
	"github.com/rocketscienceinc/arena-backend/internal/session"
	"github.com/rocketscienceinc/arena-backend/internal/transport"
	"github.com/rocketscienceinc/arena-backend/internal/transport/kcp"
)

// serveConn runs one connection: handshake, attach, then a receive loop on this
// goroutine and a write pump on another. It returns once both are done.
func (that *Arena) serveConn(ctx context.Context, conn transport.Conn) {
	log := that.logger.With("method", "serveConn", "remote", conn.RemoteAddr())

	that.connMu.Lock()
	if that.closing {
		that.connMu.Unlock()
		_ = conn.Close(session.ReasonShutdown)
		return
	}
	that.conns.Add(1)
	that.connMu.Unlock()
	defer that.conns.Done()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close(session.ReasonShutdown) })
	defer stop()

	hs, err := that.handshake(ctx, conn)
	if err != nil {
		log.Info("handshake rejected", "error", err)
		that.reject(ctx, conn, err)
		return
	}

	client := entity.NewClient(uuid.NewString(), hs.Identity, hs.Role, outbox.New(that.settings.queueSize))
	client.Remote = conn.RemoteAddr()

	sess, err := that.registry.Attach(ctx, client, hs.SessionID)
	if err != nil {
		log.Info("attach rejected", "error", err, "identity", hs.Identity)
		that.reject(ctx, conn, err)
		return
	}

	log = log.With("client_id", client.ID, "identity", client.Identity, "session_id", sess.ID())

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		that.writePump(ctx, log, conn, client)
	}()

	that.receive(ctx, log, conn, client, sess)

	client.MarkDisconnecting()
	if err := that.registry.Detach(context.WithoutCancel(ctx), client.ID); err != nil && !errors.Is(err, apperror.ErrClientNotFound) {
		log.Warn("failed to detach client", "error", err)
	}

	client.Out.Close()
	<-pumpDone

	_ = conn.Close("")
	log.Info("client disconnected")
}

func (that *Arena) handshake(ctx context.Context, conn transport.Conn) (protocol.Handshake, error) {
	hsCtx, cancel := context.WithTimeout(ctx, that.settings.handshakeTimeout)
	defer cancel()

	data, err := conn.ReadMessage(hsCtx)
	if err != nil {
		return protocol.Handshake{}, errors.Join(apperror.ErrHandshakeRequired, err)
	}

	return protocol.ParseHandshake(data)
}

// reject reports err to a connection that never became a client and closes it.
func (that *Arena) reject(ctx context.Context, conn transport.Conn, err error) {
	reason := rejectReason(err)

	if data, encErr := protocol.EncodeReject(reason); encErr == nil {
		_ = conn.WriteMessage(ctx, data)
	}

	_ = conn.Close(reason)
}

const reasonSlowConsumer = "slow consumer"

// rejectReasons are reported by their own text, without the details wrapped around them.
var rejectReasons = []error{
	apperror.ErrHandshakeRequired,
	apperror.ErrSessionNotFound,
	apperror.ErrSessionFull,
	apperror.ErrSessionClosed,
	apperror.ErrSessionLimit,
	apperror.ErrIdentityInUse,
	apperror.ErrSpectatorNeedsSession,
}

func rejectReason(err error) string {
	for _, known := range rejectReasons {
		if errors.Is(err, known) {
			return known.Error()
		}
	}

	return err.Error()
}

// receive feeds client messages into the session until the connection fails. A frame
// that cannot be decoded is answered with an error and ends the connection.
func (that *Arena) receive(ctx context.Context, log *slog.Logger, conn transport.Conn, client *entity.Client, sess *session.Session) {
	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			switch {
			case errors.Is(err, kcp.ErrIdle):
				log.Info("peer went silent", "error", err)
			case !errors.Is(err, transport.ErrClosed) && ctx.Err() == nil:
				log.Info("read failed", "error", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Info("malformed message", "error", err)
			that.caster.Error(client, 0, err.Error())
			return
		}

		if err := sess.Submit(ctx, client, msg); err != nil {
			if !errors.Is(err, apperror.ErrSessionClosed) {
				log.Warn("failed to submit message", "error", err)
			}
			return
		}
	}
}

// writePump drains the client's outbox into the connection. When the outbox is
// closed it flushes what is left and closes the connection.
func (that *Arena) writePump(ctx context.Context, log *slog.Logger, conn transport.Conn, client *entity.Client) {
	for {
		frames, err := client.Out.Next(ctx)

		for _, frame := range frames {
			if writeErr := conn.WriteMessage(ctx, frame.Data); writeErr != nil {
				log.Info("write failed", "error", writeErr)
				_ = conn.Close("")
				return
			}
		}

		if err != nil {
			if errors.Is(err, outbox.ErrClosed) {
				reason := ""
				if client.Out.Overflowed() {
					reason = reasonSlowConsumer
					log.Warn("client fell behind, closing connection")
				}
				_ = conn.Close(reason)
			}
			return
		}
	}
}
