package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rocketscienceinc/arena-backend/internal/apperror"
	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/rules"
)

var ErrSessionExists = errors.New("session state already exists")

// Snapshot is one committed version of a session's state. Snapshots are immutable
// once published.
type Snapshot struct {
	SessionID string
	Version   uint64
	State     rules.State
	Public    entity.PublicGameState
	Private   entity.PrivateStates
	Terminal  bool
	Result    json.RawMessage
	UpdatedAt time.Time
}

type record struct {
	current atomic.Pointer[Snapshot]

	// written only by the session's sequencer
	lastSeq map[entity.PlayerID]uint64

	historyMu sync.RWMutex
	history   []entity.HistoryEntry
	players   []entity.PlayerID
	// public view of every version, index is the version
	publics []entity.PublicGameState
}

// Store holds the authoritative state of every running game. Each record has a
// single writer, the sequencer of its session; readers get published snapshots.
type Store struct {
	engine rules.Engine
	now    func() time.Time

	mu      sync.RWMutex
	records map[string]*record

	retention int
	replayMu  sync.RWMutex
	replays   []*Replay
}

type Option func(*Store)

// WithReplayRetention keeps the last n finished games for replay. Zero keeps none.
func WithReplayRetention(n int) Option {
	return func(that *Store) {
		that.retention = max(n, 0)
	}
}

func New(engine rules.Engine, opts ...Option) *Store {
	that := &Store{
		engine:    engine,
		now:       time.Now,
		records:   make(map[string]*record),
		retention: DefaultReplayRetention,
	}

	for _, opt := range opts {
		opt(that)
	}

	return that
}

// Create starts a game for players and publishes version 0.
func (that *Store) Create(sessionID string, players []entity.PlayerID) (*Snapshot, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.records[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}

	out, err := that.engine.Start(players)
	if err != nil {
		return nil, fmt.Errorf("failed to start game: %w", err)
	}

	rec := &record{
		lastSeq: make(map[entity.PlayerID]uint64, len(players)),
		players: append([]entity.PlayerID(nil), players...),
	}
	snap := that.snapshot(sessionID, 0, out)
	rec.publics = []entity.PublicGameState{snap.Public}
	rec.current.Store(snap)

	that.records[sessionID] = rec

	return snap, nil
}

// Apply hands move to the rules engine and commits the outcome together with the
// version increment. On error the stored state is unchanged.
func (that *Store) Apply(ctx context.Context, sessionID string, move entity.Move) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := that.record(sessionID)
	if err != nil {
		return nil, err
	}

	current := rec.current.Load()
	if current.Terminal {
		return nil, apperror.ErrGameFinished
	}

	if last, seen := rec.lastSeq[move.Player]; seen && move.Seq <= last {
		return nil, fmt.Errorf("%w: seq %d, last applied %d", apperror.ErrStaleSequence, move.Seq, last)
	}

	out, err := that.engine.Apply(current.State, move.Player, move.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrIllegalMove, err)
	}

	next := that.snapshot(sessionID, current.Version+1, out)

	rec.historyMu.Lock()
	rec.history = append(rec.history, entity.HistoryEntry{
		Version:   next.Version,
		Player:    move.Player,
		Seq:       move.Seq,
		Payload:   move.Payload,
		AppliedAt: next.UpdatedAt,
	})
	rec.publics = append(rec.publics, next.Public)
	rec.historyMu.Unlock()

	rec.lastSeq[move.Player] = move.Seq
	rec.current.Store(next)

	return next, nil
}

// IsDuplicate reports whether seq was already applied for player. Like Apply it is
// called from the session's sequencer only.
func (that *Store) IsDuplicate(sessionID string, player entity.PlayerID, seq uint64) bool {
	rec, err := that.record(sessionID)
	if err != nil {
		return false
	}

	last, seen := rec.lastSeq[player]
	return seen && seq <= last
}

// Snapshot returns the latest committed version of a session.
func (that *Store) Snapshot(sessionID string) (*Snapshot, bool) {
	rec, err := that.record(sessionID)
	if err != nil {
		return nil, false
	}

	return rec.current.Load(), true
}

// History returns a copy of the moves applied so far.
func (that *Store) History(sessionID string) ([]entity.HistoryEntry, error) {
	rec, err := that.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.historyMu.RLock()
	defer rec.historyMu.RUnlock()

	return append([]entity.HistoryEntry(nil), rec.history...), nil
}

func (that *Store) Len() int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.records)
}

func (that *Store) record(sessionID string) (*record, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	rec, ok := that.records[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperror.ErrSessionNotFound, sessionID)
	}

	return rec, nil
}

func (that *Store) snapshot(sessionID string, version uint64, out rules.Outcome) *Snapshot {
	return &Snapshot{
		SessionID: sessionID,
		Version:   version,
		State:     out.State,
		Public:    out.Public,
		Private:   out.Private,
		Terminal:  out.Terminal,
		Result:    out.Result,
		UpdatedAt: that.now(),
	}
}
