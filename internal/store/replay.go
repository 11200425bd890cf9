package store

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

const DefaultReplayRetention = 16

// ReplayFrame is the public view after a version, with the move that produced it.
// Version 0 has no move.
type ReplayFrame struct {
	Version uint64                 `json:"version"`
	Move    *entity.HistoryEntry   `json:"move,omitempty"`
	Public  entity.PublicGameState `json:"public"`
}

// Replay is a finished game kept for step by step viewing. It holds public data only
// and is never modified once archived.
type Replay struct {
	SessionID  string
	Players    []entity.PlayerID
	Reason     string
	Result     json.RawMessage
	FinishedAt time.Time
	Frames     []ReplayFrame
}

type ReplaySummary struct {
	SessionID  string            `json:"session_id"`
	Players    []entity.PlayerID `json:"players"`
	Reason     string            `json:"reason"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Moves      int               `json:"moves"`
	FinishedAt time.Time         `json:"finished_at"`
}

func (that *Replay) Summary() ReplaySummary {
	return ReplaySummary{
		SessionID:  that.SessionID,
		Players:    that.Players,
		Reason:     that.Reason,
		Result:     that.Result,
		Moves:      len(that.Frames) - 1,
		FinishedAt: that.FinishedAt,
	}
}

// Last is the final version of the game.
func (that *Replay) Last() uint64 {
	return uint64(len(that.Frames) - 1)
}

// Seek returns the frame at version, clamped to the first and last version.
func (that *Replay) Seek(version int64) ReplayFrame {
	version = min(max(version, 0), int64(that.Last()))
	return that.Frames[version]
}

// Archive releases a session's record. A game that was started is kept for replay,
// evicting the oldest one beyond the retention.
func (that *Store) Archive(sessionID, reason string) {
	that.mu.Lock()
	rec, ok := that.records[sessionID]
	delete(that.records, sessionID)
	that.mu.Unlock()

	if !ok || that.retention == 0 {
		return
	}

	current := rec.current.Load()

	rec.historyMu.RLock()
	replay := &Replay{
		SessionID:  sessionID,
		Players:    rec.players,
		Reason:     reason,
		Result:     current.Result,
		FinishedAt: that.now(),
		Frames:     make([]ReplayFrame, len(rec.publics)),
	}
	for v, public := range rec.publics {
		replay.Frames[v] = ReplayFrame{Version: uint64(v), Public: public}
	}
	for i := range rec.history {
		entry := rec.history[i]
		replay.Frames[entry.Version].Move = &entry
	}
	rec.historyMu.RUnlock()

	that.replayMu.Lock()
	defer that.replayMu.Unlock()

	that.replays = append(that.replays, replay)
	if over := len(that.replays) - that.retention; over > 0 {
		clear(that.replays[:over])
		that.replays = that.replays[over:]
	}
}

// Replays lists the kept games, most recently finished first.
func (that *Store) Replays() []ReplaySummary {
	that.replayMu.RLock()
	defer that.replayMu.RUnlock()

	out := make([]ReplaySummary, 0, len(that.replays))
	for _, replay := range slices.Backward(that.replays) {
		out = append(out, replay.Summary())
	}

	return out
}

func (that *Store) Replay(sessionID string) (*Replay, bool) {
	that.replayMu.RLock()
	defer that.replayMu.RUnlock()

	for _, replay := range that.replays {
		if replay.SessionID == sessionID {
			return replay, true
		}
	}

	return nil, false
}
