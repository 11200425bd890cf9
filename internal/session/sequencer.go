package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rocketscienceinc/arena-backend/internal/apperror"
	"github.com/rocketscienceinc/arena-backend/internal/broadcast"
	"github.com/rocketscienceinc/arena-backend/internal/clock"
	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/store"
)

// Everything in this file runs on the session goroutine.

func (that *Session) join(client *entity.Client) error {
	log := that.logger.With("method", "join", "client_id", client.ID, "identity", client.Identity)

	if that.closed || that.status == entity.SessionFinished {
		return apperror.ErrSessionClosed
	}

	if !client.IsPlayer() {
		that.spectators[client.ID] = client
		that.caster.Ack(client)
		if that.last != nil {
			that.caster.State(that.frame(that.last), []*entity.Client{client})
		}
		that.publish()

		log.Info("spectator joined")
		return nil
	}

	if s := that.seatOf(client.Identity); s != nil {
		if !s.gone {
			return apperror.ErrIdentityInUse
		}

		that.rejoin(s, client)
		return nil
	}

	if that.status != entity.SessionWaiting || len(that.seats) >= that.cfg.PlayersPerSession {
		return apperror.ErrSessionFull
	}

	that.seats = append(that.seats, &seat{player: client.Identity, client: client})
	that.caster.Ack(client)
	that.publish()

	log.Info("player joined", "seats", len(that.seats), "needed", that.cfg.PlayersPerSession)

	if len(that.seats) == that.cfg.PlayersPerSession {
		that.start()
	}

	return nil
}

// rejoin gives a gone seat back to the player who held it.
func (that *Session) rejoin(s *seat, client *entity.Client) {
	log := that.logger.With("method", "rejoin", "identity", client.Identity)

	s.client = client
	s.gone = false

	that.caster.Ack(client)
	if that.last != nil {
		that.caster.State(that.frame(that.last), []*entity.Client{client})
	}

	log.Info("player reconnected")

	if that.status == entity.SessionPaused {
		that.skips = 0
		that.seek()
		that.announceTurn()
		that.startTurn()
	}

	that.publish()
}

func (that *Session) start() {
	log := that.logger.With("method", "start")

	players := make([]entity.PlayerID, len(that.seats))
	for i, s := range that.seats {
		players[i] = s.player
	}

	snap, err := that.store.Create(that.id, players)
	if err != nil {
		log.Error("failed to start game", "error", err)
		that.end(ReasonInternal)
		return
	}

	if that.cfg.ClockInitial > 0 {
		that.clock.Store(clock.New(that.cfg.ClockInitial, that.cfg.ClockIncrement, players))
	}

	that.last = snap
	that.version = snap.Version
	that.turn = 0
	that.skips = 0
	that.status = entity.SessionAwaitingMove

	log.Info("game started", "players", players)

	that.caster.State(that.frame(snap), that.recipients())

	if snap.Terminal {
		that.status = entity.SessionFinished
		that.end(ReasonFinished)
		return
	}

	that.startTurn()
	that.publish()
}

func (that *Session) move(ctx context.Context, client *entity.Client, move entity.Move) {
	log := that.logger.With("method", "move", "player", move.Player, "seq", move.Seq)

	if err := that.checkMove(client, move); err != nil {
		if errors.Is(err, apperror.ErrStaleSequence) {
			log.Debug("duplicate move ignored")
			return
		}

		log.Info("move rejected", "reason", err)
		that.caster.Error(client, move.Seq, err.Error())
		return
	}

	that.status = entity.SessionApplying

	snap, err := that.apply(context.WithoutCancel(ctx), move)
	if err != nil {
		that.status = entity.SessionAwaitingMove

		if errors.Is(err, apperror.ErrStaleSequence) {
			return
		}

		log.Info("move rejected", "reason", err)
		that.caster.Error(client, move.Seq, err.Error())
		return
	}

	that.stopTurn()
	that.last = snap
	that.version = snap.Version
	that.skips = 0

	if clk := that.clock.Load(); clk.Enabled() {
		log = log.With("time_left", clk.Remaining(move.Player))
	}
	log.Debug("move applied", "version", snap.Version)

	if snap.Terminal {
		that.status = entity.SessionFinished
		that.caster.State(that.frame(snap), that.recipients())
		that.end(ReasonFinished)
		return
	}

	that.turn = (that.turn + 1) % len(that.seats)
	abandoned := !that.seek()

	that.caster.State(that.frame(snap), that.recipients())

	if abandoned {
		that.end(ReasonAbandoned)
		return
	}

	that.startTurn()
	that.publish()
}

// checkMove validates a move against the sequencer state. Duplicates come first so a
// resent move is a no-op whatever happened since.
func (that *Session) checkMove(client *entity.Client, move entity.Move) error {
	if !client.IsPlayer() {
		return apperror.ErrNotAPlayer
	}

	s := that.seatOf(move.Player)
	if s == nil || s.client != client {
		return apperror.ErrSeatTaken
	}

	if that.last != nil && that.store.IsDuplicate(that.id, move.Player, move.Seq) {
		return apperror.ErrStaleSequence
	}

	switch that.status {
	case entity.SessionWaiting:
		return apperror.ErrGameIsNotStarted
	case entity.SessionPaused:
		return apperror.ErrSessionPaused
	case entity.SessionFinished:
		return apperror.ErrGameFinished
	}

	if that.seats[that.turn].player != move.Player {
		return apperror.ErrNotYourTurn
	}

	return nil
}

func (that *Session) apply(ctx context.Context, move entity.Move) (*store.Snapshot, error) {
	ctx, span := that.tracer.Start(ctx, "session.apply", trace.WithAttributes(
		attribute.String("arena.session_id", that.id),
		attribute.String("arena.player", string(move.Player)),
		attribute.Int64("arena.seq", int64(move.Seq)),
	))
	defer span.End()

	snap, err := that.store.Apply(ctx, that.id, move)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int64("arena.version", int64(snap.Version)))

	return snap, nil
}

func (that *Session) leave(client *entity.Client) {
	log := that.logger.With("method", "leave", "client_id", client.ID, "identity", client.Identity)

	if !client.IsPlayer() {
		delete(that.spectators, client.ID)
		that.publish()
		log.Info("spectator left")
		return
	}

	idx := -1
	for i, s := range that.seats {
		if s.client == client {
			idx = i
			break
		}
	}

	if idx < 0 || that.seats[idx].gone {
		return
	}

	if that.status == entity.SessionWaiting {
		that.seats = append(that.seats[:idx], that.seats[idx+1:]...)
		log.Info("player left before start", "seats", len(that.seats))

		if len(that.seats) == 0 {
			that.end(ReasonAbandoned)
			return
		}

		that.publish()
		return
	}

	that.seats[idx].gone = true
	that.seats[idx].client = nil
	log.Info("player gone")

	if that.allGone() {
		that.end(ReasonAbandoned)
		return
	}

	if idx == that.turn && that.status == entity.SessionAwaitingMove {
		that.stopTurn()
		that.seek()
		that.announceTurn()
		that.startTurn()
	}

	that.publish()
}

// timeout forfeits the turn of a player who ran out of clock time.
func (that *Session) timeout(token uint64) {
	if token != that.turnToken || that.status != entity.SessionAwaitingMove {
		return
	}

	player := that.seats[that.turn].player
	that.logger.Info("player ran out of time", "player", player, "version", that.version)

	if clk := that.clock.Load(); clk != nil {
		clk.Stop()
	}

	that.turn = (that.turn + 1) % len(that.seats)
	that.seek()
	that.announceTurn()
	that.startTurn()
	that.publish()
}

// seek moves the turn forward from the current seat to the first player still
// connected. Every gone seat passed counts as a skip. It reports false when nobody is
// left to play.
func (that *Session) seek() bool {
	if that.allGone() {
		return false
	}

	that.status = entity.SessionAwaitingMove

	for range that.seats {
		if !that.seats[that.turn].gone {
			return true
		}

		if that.cfg.Policy == PolicyPause {
			that.status = entity.SessionPaused
			return true
		}

		that.skips++
		if that.skips > that.cfg.SkipLimit {
			that.status = entity.SessionPaused
			return true
		}

		that.turn = (that.turn + 1) % len(that.seats)
	}

	return true
}

func (that *Session) announceTurn() {
	that.caster.Turn(that.version, that.currentPlayer(), that.status, that.recipients())

	if that.status == entity.SessionPaused {
		that.logger.Warn("session paused", "waiting_for", that.currentPlayer(), "skips", that.skips)
	}
}

// startTurn arms the clock of the player on turn.
func (that *Session) startTurn() {
	that.turnToken++

	clk := that.clock.Load()
	if that.status != entity.SessionAwaitingMove || !clk.Enabled() {
		return
	}

	budget := clk.Start(that.seats[that.turn].player)
	token := that.turnToken

	that.timer = time.AfterFunc(budget, func() {
		_ = that.send(context.Background(), func() { that.timeout(token) })
	})
}

func (that *Session) stopTurn() {
	if that.timer != nil {
		that.timer.Stop()
		that.timer = nil
	}

	if clk := that.clock.Load(); clk != nil {
		clk.Stop()
	}
}

// end notifies every client, closes their outboxes and releases the session.
func (that *Session) end(reason string) {
	if that.closed {
		return
	}

	that.stopTurn()
	that.closed = true
	that.status = entity.SessionFinished

	recipients := that.recipients()
	that.caster.End(that.id, reason, that.finalState(), recipients)

	for _, c := range recipients {
		c.Out.Close()
	}

	that.store.Archive(that.id, reason)
	that.publish()

	that.logger.Info("session ended", "reason", reason, "version", that.version)

	if that.onClose != nil {
		that.onClose(that.id)
	}
}

func (that *Session) finalState() json.RawMessage {
	if that.last == nil {
		return nil
	}

	final, err := json.Marshal(struct {
		Version uint64                 `json:"version"`
		Public  entity.PublicGameState `json:"public"`
		Result  json.RawMessage        `json:"result,omitempty"`
	}{that.last.Version, that.last.Public, that.last.Result})
	if err != nil {
		that.logger.Error("failed to encode final state", "error", err)
		return nil
	}

	return final
}

func (that *Session) frame(snap *store.Snapshot) broadcast.Frame {
	return broadcast.Frame{
		SessionID:     that.id,
		Version:       snap.Version,
		Status:        that.status,
		CurrentPlayer: that.currentPlayer(),
		Players:       that.seatInfo(),
		Public:        snap.Public,
		Private:       snap.Private,
	}
}

func (that *Session) seatOf(player entity.PlayerID) *seat {
	for _, s := range that.seats {
		if s.player == player {
			return s
		}
	}

	return nil
}

func (that *Session) allGone() bool {
	for _, s := range that.seats {
		if !s.gone {
			return false
		}
	}

	return true
}
