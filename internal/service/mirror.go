// Package service holds the background workers that run next to the arena.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

const mirrorWriteTimeout = 2 * time.Second

type snapshotRepo interface {
	Save(ctx context.Context, snapshot entity.PublicSnapshot) error
	DeleteByID(ctx context.Context, id string) error
}

type mirrorJob struct {
	snapshot *entity.PublicSnapshot
	remove   string
}

// Mirror copies public snapshots to a repository on its own goroutine. Sessions hand
// it work without waiting. When the queue is full a snapshot is dropped, a removal
// never is, so finished sessions do not linger in the repository.
type Mirror struct {
	logger *slog.Logger
	repo   snapshotRepo
	size   int

	mu     sync.Mutex
	queue  []mirrorJob
	notify chan struct{}

	dropped atomic.Uint64
}

func NewMirror(logger *slog.Logger, repo snapshotRepo, queueSize int) *Mirror {
	if queueSize < 1 {
		queueSize = 1
	}

	return &Mirror{
		logger: logger.With("component", "mirror"),
		repo:   repo,
		size:   queueSize,
		notify: make(chan struct{}, 1),
	}
}

func (that *Mirror) Publish(snapshot entity.PublicSnapshot) {
	that.mu.Lock()
	if len(that.queue) >= that.size {
		that.mu.Unlock()
		that.dropped.Add(1)
		that.logger.Warn("mirror queue is full, update dropped", "session_id", snapshot.SessionID, "version", snapshot.Version)
		return
	}
	that.queue = append(that.queue, mirrorJob{snapshot: &snapshot})
	that.mu.Unlock()

	that.signal()
}

func (that *Mirror) Remove(sessionID string) {
	that.mu.Lock()
	that.queue = append(that.queue, mirrorJob{remove: sessionID})
	that.mu.Unlock()

	that.signal()
}

// Dropped counts snapshots lost to a full queue.
func (that *Mirror) Dropped() uint64 {
	return that.dropped.Load()
}

func (that *Mirror) signal() {
	select {
	case that.notify <- struct{}{}:
	default:
	}
}

func (that *Mirror) take() []mirrorJob {
	that.mu.Lock()
	defer that.mu.Unlock()

	jobs := that.queue
	that.queue = nil

	return jobs
}

// Run writes queued updates until ctx is cancelled, then flushes what is queued.
func (that *Mirror) Run(ctx context.Context) error {
	log := that.logger.With("method", "Run")
	log.Info("mirror started")

	for {
		select {
		case <-that.notify:
			for _, job := range that.take() {
				that.write(ctx, job)
			}
		case <-ctx.Done():
			for _, job := range that.take() {
				that.write(context.WithoutCancel(ctx), job)
			}
			log.Info("mirror stopped", "dropped", that.Dropped())
			return nil
		}
	}
}

func (that *Mirror) write(ctx context.Context, job mirrorJob) {
	log := that.logger.With("method", "write", "session_id", job.sessionID())

	ctx, cancel := context.WithTimeout(ctx, mirrorWriteTimeout)
	defer cancel()

	if job.snapshot != nil {
		if err := that.repo.Save(ctx, *job.snapshot); err != nil {
			log.Error("failed to mirror snapshot", "version", job.snapshot.Version, "error", err)
		}
		return
	}

	if err := that.repo.DeleteByID(ctx, job.remove); err != nil {
		log.Error("failed to remove mirrored session", "error", err)
	}
}

func (that mirrorJob) sessionID() string {
	if that.snapshot != nil {
		return that.snapshot.SessionID
	}

	return that.remove
}
