// Package session runs one game session as an actor: a single goroutine owns the
// roster, the turn and the session's store record, and everything else talks to it
// through its mailbox.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rocketscienceinc/arena-backend/internal/apperror"
	"github.com/rocketscienceinc/arena-backend/internal/broadcast"
	"github.com/rocketscienceinc/arena-backend/internal/clock"
	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/protocol"
	"github.com/rocketscienceinc/arena-backend/internal/store"
)

// Reasons reported in session_end.
const (
	ReasonFinished  = "finished"
	ReasonAbandoned = "abandoned"
	ReasonShutdown  = "server shutting down"
	ReasonInternal  = "internal error"
)

const defaultMailboxSize = 64

// Info is a read-only copy of a session, safe to hand to any goroutine.
type Info struct {
	ID            string               `json:"id"`
	Status        entity.SessionStatus `json:"status"`
	Version       uint64               `json:"version"`
	CurrentPlayer entity.PlayerID      `json:"current_player,omitempty"`
	Players       []entity.SeatInfo    `json:"players"`
	Spectators    int                  `json:"spectators"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store       *store.Store
	Broadcaster *broadcast.Broadcaster
	Logger      *slog.Logger
	Tracer      trace.Tracer
	// OnClose runs on the session goroutine once the session is torn down.
	OnClose func(id string)
}

type command func()

type seat struct {
	player entity.PlayerID
	client *entity.Client
	gone   bool
}

type Session struct {
	id        string
	cfg       Config
	createdAt time.Time

	logger  *slog.Logger
	tracer  trace.Tracer
	store   *store.Store
	caster  *broadcast.Broadcaster
	onClose func(id string)

	mailbox chan command
	done    chan struct{}

	info  atomic.Pointer[Info]
	clock atomic.Pointer[clock.Clock]

	// owned by the session goroutine
	status     entity.SessionStatus
	seats      []*seat
	spectators map[string]*entity.Client
	turn       int
	skips      int
	version    uint64
	last       *store.Snapshot
	turnToken  uint64
	timer      *time.Timer
	closed     bool
}

// New starts the session goroutine. The session waits for cfg.PlayersPerSession
// players before the game starts.
func New(id string, cfg Config, deps Deps) *Session {
	if cfg.MailboxSize < 1 {
		cfg.MailboxSize = defaultMailboxSize
	}

	if cfg.Policy == "" {
		cfg.Policy = PolicyForfeit
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("arena/session")
	}

	that := &Session{
		id:         id,
		cfg:        cfg,
		createdAt:  time.Now(),
		logger:     deps.Logger.With("component", "session", "session_id", id),
		tracer:     tracer,
		store:      deps.Store,
		caster:     deps.Broadcaster,
		onClose:    deps.OnClose,
		mailbox:    make(chan command, cfg.MailboxSize),
		done:       make(chan struct{}),
		status:     entity.SessionWaiting,
		spectators: make(map[string]*entity.Client),
	}

	that.publish()

	go that.run()

	return that
}

func (that *Session) ID() string {
	return that.id
}

// Info returns the latest published copy of the session.
func (that *Session) Info() Info {
	info := *that.info.Load()
	info.Players = slices.Clone(info.Players)

	return info
}

// Done is closed once the session has ended and notified its clients.
func (that *Session) Done() <-chan struct{} {
	return that.done
}

// Times returns every player's remaining clock time, nil when turns are not timed.
func (that *Session) Times() (map[entity.PlayerID]time.Duration, entity.PlayerID) {
	clk := that.clock.Load()
	if !clk.Enabled() {
		return nil, ""
	}

	return clk.Snapshot()
}

// Join attaches client to the session. The handshake ack is enqueued before any state.
func (that *Session) Join(ctx context.Context, client *entity.Client) error {
	return that.call(ctx, func() error {
		return that.join(client)
	})
}

// Leave detaches client. It returns once the session has processed the departure.
func (that *Session) Leave(ctx context.Context, client *entity.Client) error {
	return that.call(ctx, func() error {
		that.leave(client)
		return nil
	})
}

// Submit queues a message received from client. Rejections are reported to the client
// through its outbox, never to the caller.
func (that *Session) Submit(ctx context.Context, client *entity.Client, msg protocol.Message) error {
	return that.send(ctx, func() {
		switch msg.Type {
		case protocol.TypeMove:
			that.move(ctx, client, entity.Move{Player: client.Identity, Seq: msg.Seq, Payload: msg.Payload})
		case protocol.TypeLog:
			that.logger.Info("player log",
				"player", client.Identity, "version", that.version, "turn", that.currentPlayer(), "message", msg.Message)
		}
	})
}

// Close ends the session with reason and waits until the clients were notified.
func (that *Session) Close(ctx context.Context, reason string) error {
	err := that.send(ctx, func() {
		that.end(reason)
	})
	if err != nil {
		return err
	}

	select {
	case <-that.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (that *Session) send(ctx context.Context, cmd command) error {
	select {
	case <-that.done:
		return apperror.ErrSessionClosed
	default:
	}

	select {
	case that.mailbox <- cmd:
		return nil
	case <-that.done:
		return apperror.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (that *Session) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)

	if err := that.send(ctx, func() { reply <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-that.done:
		// the command may have been the one that ended the session
		select {
		case err := <-reply:
			return err
		default:
			return apperror.ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (that *Session) run() {
	defer close(that.done)

	for cmd := range that.mailbox {
		that.exec(cmd)

		if that.closed {
			return
		}
	}
}

// exec runs one command. A panic ends this session only.
func (that *Session) exec(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			that.logger.Error("session panicked", "panic", fmt.Sprint(r))

			if !that.closed {
				that.end(ReasonInternal)
			}
		}
	}()

	cmd()
}

// publish stores a fresh Info copy for readers outside the session goroutine.
func (that *Session) publish() {
	info := &Info{
		ID:            that.id,
		Status:        that.status,
		Version:       that.version,
		CurrentPlayer: that.currentPlayer(),
		Players:       that.seatInfo(),
		Spectators:    len(that.spectators),
		CreatedAt:     that.createdAt,
	}

	that.info.Store(info)
}

func (that *Session) seatInfo() []entity.SeatInfo {
	out := make([]entity.SeatInfo, 0, len(that.seats))
	for _, s := range that.seats {
		status := entity.StatusConnected
		if s.gone {
			status = entity.StatusGone
		}
		out = append(out, entity.SeatInfo{Player: s.player, Status: status})
	}

	return out
}

func (that *Session) currentPlayer() entity.PlayerID {
	if that.status == entity.SessionWaiting || that.status == entity.SessionFinished || len(that.seats) == 0 {
		return ""
	}

	return that.seats[that.turn].player
}

// recipients lists every attached client that should receive broadcasts.
func (that *Session) recipients() []*entity.Client {
	out := make([]*entity.Client, 0, len(that.seats)+len(that.spectators))
	for _, s := range that.seats {
		if !s.gone && s.client != nil {
			out = append(out, s.client)
		}
	}

	for _, c := range that.spectators {
		out = append(out, c)
	}

	return out
}
