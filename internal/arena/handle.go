package arena

import (
	"context"
)

// Handle controls an arena started with Spawn.
type Handle struct {
	arena  *Arena
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Spawn runs the arena on its own goroutine until ctx is cancelled or Shutdown is called.
func (that *Arena) Spawn(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)

	h := &Handle{
		arena:  that,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		h.err = that.Run(ctx)
	}()

	return h
}

func (that *Handle) Arena() *Arena {
	return that.arena
}

// Done is closed once the arena stopped.
func (that *Handle) Done() <-chan struct{} {
	return that.done
}

// Shutdown asks the arena to stop and waits for it, or for ctx.
func (that *Handle) Shutdown(ctx context.Context) error {
	that.cancel()

	select {
	case <-that.done:
		return that.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join waits until the arena stopped and returns the error Run returned.
func (that *Handle) Join() error {
	<-that.done
	return that.err
}
