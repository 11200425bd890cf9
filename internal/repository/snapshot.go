package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

const (
	sessionKeyPrefix = "arena:session:"
	sessionsKey      = "arena:sessions"
)

// SessionKey is where the latest public snapshot of a session lives.
func SessionKey(id string) string {
	return sessionKeyPrefix + id
}

// UpdatesChannel carries every snapshot of a session as it is saved.
func UpdatesChannel(id string) string {
	return sessionKeyPrefix + id + ":updates"
}

type SnapshotRepository interface {
	Save(ctx context.Context, snapshot entity.PublicSnapshot) error
	GetByID(ctx context.Context, id string) (*entity.PublicSnapshot, error)
	List(ctx context.Context) ([]string, error)
	DeleteByID(ctx context.Context, id string) error
}

type dbSnapshot struct {
	client *redis.Client
}

func NewSnapshotRepository(client *redis.Client) SnapshotRepository {
	return &dbSnapshot{
		client: client,
	}
}

// Save overwrites the stored snapshot and announces it on the session's channel.
// An older version never replaces a newer one.
func (that *dbSnapshot) Save(ctx context.Context, snapshot entity.PublicSnapshot) error {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("could not marshal snapshot: %w", err)
	}

	key := SessionKey(snapshot.SessionID)

	stored, err := that.GetByID(ctx, snapshot.SessionID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		return err
	}

	if stored != nil && stored.Version > snapshot.Version {
		return nil
	}

	_, err = that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, snapshotJSON, 0)
		pipe.SAdd(ctx, sessionsKey, snapshot.SessionID)
		pipe.Publish(ctx, UpdatesChannel(snapshot.SessionID), snapshotJSON)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

func (that *dbSnapshot) GetByID(ctx context.Context, id string) (*entity.PublicSnapshot, error) {
	response, err := that.client.Get(ctx, SessionKey(id)).Result()

	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot by id: %w", err)
	}

	var snapshot entity.PublicSnapshot
	if err = json.Unmarshal([]byte(response), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// List returns the ids of every mirrored session.
func (that *dbSnapshot) List(ctx context.Context) ([]string, error) {
	ids, err := that.client.SMembers(ctx, sessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return ids, nil
}

func (that *dbSnapshot) DeleteByID(ctx context.Context, id string) error {
	_, err := that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, SessionKey(id))
		pipe.SRem(ctx, sessionsKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot by ID: %w", err)
	}

	return nil
}
