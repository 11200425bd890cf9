package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

type mockRepo struct {
	mock.Mock
}

func (that *mockRepo) Save(ctx context.Context, snapshot entity.PublicSnapshot) error {
	args := that.Called(ctx, snapshot)
	return args.Error(0)
}

func (that *mockRepo) DeleteByID(ctx context.Context, id string) error {
	args := that.Called(ctx, id)
	return args.Error(0)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMirror_Run(t *testing.T) {
	t.Run("Writes updates in order", func(t *testing.T) {
		// Given: a mirror with two updates and a removal queued
		repo := &mockRepo{}
		var order []string

		repo.On("Save", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
			order = append(order, "save")
		})
		repo.On("DeleteByID", mock.Anything, "s1").Return(nil).Run(func(args mock.Arguments) {
			order = append(order, "delete")
		})

		m := NewMirror(discard(), repo, 8)
		m.Publish(entity.PublicSnapshot{SessionID: "s1", Version: 0})
		m.Publish(entity.PublicSnapshot{SessionID: "s1", Version: 1})
		m.Remove("s1")

		// When: the mirror runs and is stopped
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, m.Run(ctx))

		// Then: every update reached the repository in order
		assert.Equal(t, []string{"save", "save", "delete"}, order)
		repo.AssertNumberOfCalls(t, "Save", 2)
		assert.Zero(t, m.Dropped())
	})

	t.Run("Repository failures do not stop the worker", func(t *testing.T) {
		repo := &mockRepo{}
		saved := make(chan struct{})
		repo.On("Save", mock.Anything, mock.MatchedBy(func(s entity.PublicSnapshot) bool { return s.Version == 1 })).
			Return(errors.New("redis down"))
		repo.On("Save", mock.Anything, mock.MatchedBy(func(s entity.PublicSnapshot) bool { return s.Version == 2 })).
			Return(nil).Run(func(mock.Arguments) { close(saved) })

		m := NewMirror(discard(), repo, 8)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- m.Run(ctx) }()

		// When: the first write fails
		m.Publish(entity.PublicSnapshot{SessionID: "s1", Version: 1})
		m.Publish(entity.PublicSnapshot{SessionID: "s1", Version: 2})

		// Then: the second one is still written
		select {
		case <-saved:
		case <-time.After(5 * time.Second):
			t.Fatal("second snapshot was not written")
		}

		cancel()
		require.NoError(t, <-done)
		repo.AssertExpectations(t)
	})
}

func TestMirror_DropsWhenFull(t *testing.T) {
	// Given: a mirror whose worker is not running yet
	repo := &mockRepo{}
	var order []string
	repo.On("Save", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		order = append(order, "save")
	})
	repo.On("DeleteByID", mock.Anything, "s1").Return(nil).Run(func(args mock.Arguments) {
		order = append(order, "delete")
	})
	m := NewMirror(discard(), repo, 1)

	// When: more updates arrive than the queue holds
	m.Publish(entity.PublicSnapshot{SessionID: "s1", Version: 1})
	m.Publish(entity.PublicSnapshot{SessionID: "s1", Version: 2})
	m.Remove("s1")

	// Then: only the extra snapshot is dropped, the removal is kept
	assert.Equal(t, uint64(1), m.Dropped())

	// And: once the worker runs the session is removed from the repository
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Run(ctx))

	assert.Equal(t, []string{"save", "delete"}, order)
	repo.AssertCalled(t, "Save", mock.Anything, entity.PublicSnapshot{SessionID: "s1", Version: 1})
}
