package outbox

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed   = errors.New("outbox closed")
	ErrOverflow = errors.New("outbox overflow: client is not reading")
)

// capacityFactor bounds the whole queue at this many times the state limit, so a
// client that never reads cannot pile up control frames either.
const capacityFactor = 4

type Kind int

const (
	KindControl Kind = iota
	KindState
)

// Frame is one encoded server message waiting to be written to a client.
type Frame struct {
	Kind    Kind
	Version uint64
	Data    []byte
}

// Outbox is a per-client outbound queue. Producers never block: when the queue is
// saturated, queued state frames are dropped in favour of the newest one. Control
// frames (acks, errors, turn changes, session end) are never dropped; when they alone
// fill the queue the client is a slow consumer and the outbox closes itself.
type Outbox struct {
	mu       sync.Mutex
	frames   []Frame
	limit    int
	capacity int

	lastVersion uint64
	hasVersion  bool
	dropped     uint64
	closed      bool
	overflowed  bool

	notify chan struct{}
}

func New(limit int) *Outbox {
	if limit < 1 {
		limit = 1
	}

	return &Outbox{
		limit:    limit,
		capacity: limit * capacityFactor,
		frames:   make([]Frame, 0, limit),
		notify:   make(chan struct{}, 1),
	}
}

// Push enqueues a control frame.
func (that *Outbox) Push(data []byte) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return ErrClosed
	}

	if err := that.reserve(); err != nil {
		return err
	}

	that.frames = append(that.frames, Frame{Kind: KindControl, Data: data})
	that.signal()

	return nil
}

// PushState enqueues a state frame. Versions must strictly increase per client, a
// frame at or below the last enqueued version is skipped and false is returned.
func (that *Outbox) PushState(version uint64, data []byte) (bool, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return false, ErrClosed
	}

	if that.hasVersion && version <= that.lastVersion {
		return false, nil
	}

	if len(that.frames) >= that.limit {
		that.dropStale()
	}

	if err := that.reserve(); err != nil {
		return false, err
	}

	that.frames = append(that.frames, Frame{Kind: KindState, Version: version, Data: data})
	that.lastVersion = version
	that.hasVersion = true
	that.signal()

	return true, nil
}

// reserve makes room for one more frame. Stale state frames go first; if control
// frames alone fill the queue the outbox is closed as overflowed. Frames already
// queued are still delivered.
func (that *Outbox) reserve() error {
	if len(that.frames) < that.capacity {
		return nil
	}

	that.dropStale()
	if len(that.frames) < that.capacity {
		return nil
	}

	that.overflowed = true
	that.closed = true
	that.signal()

	return ErrOverflow
}

// dropStale removes every queued state frame, keeping control frames in order.
func (that *Outbox) dropStale() {
	kept := that.frames[:0]
	for _, f := range that.frames {
		if f.Kind == KindState {
			that.dropped++
			continue
		}
		kept = append(kept, f)
	}

	// clear the tail so dropped payloads can be collected
	for i := len(kept); i < len(that.frames); i++ {
		that.frames[i] = Frame{}
	}

	that.frames = kept
}

func (that *Outbox) signal() {
	select {
	case that.notify <- struct{}{}:
	default:
	}
}

// Next blocks until frames are available and returns all of them in order. Once the
// outbox is closed and drained it returns ErrClosed.
func (that *Outbox) Next(ctx context.Context) ([]Frame, error) {
	for {
		that.mu.Lock()
		if len(that.frames) > 0 {
			batch := that.frames
			that.frames = make([]Frame, 0, that.limit)
			that.mu.Unlock()
			return batch, nil
		}
		closed := that.closed
		that.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-that.notify:
		}
	}
}

// Close stops accepting frames. Frames already queued are still returned by Next.
func (that *Outbox) Close() {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return
	}

	that.closed = true
	that.signal()
}

func (that *Outbox) Closed() bool {
	that.mu.Lock()
	defer that.mu.Unlock()
	return that.closed
}

func (that *Outbox) Len() int {
	that.mu.Lock()
	defer that.mu.Unlock()
	return len(that.frames)
}

// Dropped reports how many stale state frames were discarded for this client.
func (that *Outbox) Dropped() uint64 {
	that.mu.Lock()
	defer that.mu.Unlock()
	return that.dropped
}

// Overflowed reports whether the outbox closed itself because the client fell behind.
func (that *Outbox) Overflowed() bool {
	that.mu.Lock()
	defer that.mu.Unlock()
	return that.overflowed
}
