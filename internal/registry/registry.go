// Package registry maps clients to the sessions they play or watch.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/arena-backend/internal/apperror"
	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/session"
)

type Config struct {
	MaxSessions int
	Session     session.Config
}

// Registry owns every attached client and live session. Its lock guards the two maps
// only; sessions are driven through their own mailboxes.
type Registry struct {
	logger *slog.Logger
	cfg    Config
	deps   session.Deps
	newID  func() string

	mu       sync.RWMutex
	sessions map[string]*session.Session
	clients  map[string]*entity.Client
	closing  bool
}

func New(logger *slog.Logger, cfg Config, deps session.Deps) *Registry {
	that := &Registry{
		logger:   logger.With("component", "registry"),
		cfg:      cfg,
		newID:    uuid.NewString,
		sessions: make(map[string]*session.Session),
		clients:  make(map[string]*entity.Client),
	}

	deps.OnClose = that.removeSession
	if deps.Logger == nil {
		deps.Logger = logger
	}
	that.deps = deps

	return that
}

// Attach joins client to sessionID, or to a new session when a player names none.
func (that *Registry) Attach(ctx context.Context, client *entity.Client, sessionID string) (*session.Session, error) {
	log := that.logger.With("method", "Attach", "client_id", client.ID, "identity", client.Identity)

	sess, created, err := that.resolve(client, sessionID)
	if err != nil {
		return nil, err
	}

	client.SessionID = sess.ID()
	client.SetStatus(entity.StatusConnected)

	if err := sess.Join(ctx, client); err != nil {
		if created {
			_ = sess.Close(ctx, session.ReasonAbandoned)
		}
		return nil, fmt.Errorf("failed to join session %s: %w", sess.ID(), err)
	}

	that.mu.Lock()
	// the session may have ended right after the join
	if _, live := that.sessions[sess.ID()]; live {
		that.clients[client.ID] = client
	}
	that.mu.Unlock()

	log.Info("client attached", "session_id", sess.ID(), "role", client.Role, "new_session", created)

	return sess, nil
}

func (that *Registry) resolve(client *entity.Client, sessionID string) (*session.Session, bool, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closing {
		return nil, false, apperror.ErrSessionClosed
	}

	if sessionID != "" {
		sess, ok := that.sessions[sessionID]
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", apperror.ErrSessionNotFound, sessionID)
		}
		return sess, false, nil
	}

	if !client.IsPlayer() {
		return nil, false, apperror.ErrSpectatorNeedsSession
	}

	if that.cfg.MaxSessions > 0 && len(that.sessions) >= that.cfg.MaxSessions {
		return nil, false, fmt.Errorf("%w: %d", apperror.ErrSessionLimit, that.cfg.MaxSessions)
	}

	sess := session.New(that.newID(), that.cfg.Session, that.deps)
	that.sessions[sess.ID()] = sess

	return sess, true, nil
}

// Detach marks the client gone and lets its session apply the disconnect policy.
func (that *Registry) Detach(ctx context.Context, clientID string) error {
	var sess *session.Session

	that.mu.Lock()
	client, ok := that.clients[clientID]
	if ok {
		delete(that.clients, clientID)
		sess = that.sessions[client.SessionID]
	}
	that.mu.Unlock()

	if !ok {
		return apperror.ErrClientNotFound
	}

	client.SetStatus(entity.StatusGone)

	if sess == nil {
		return nil
	}

	if err := sess.Leave(ctx, client); err != nil && !errors.Is(err, apperror.ErrSessionClosed) {
		return fmt.Errorf("failed to leave session %s: %w", sess.ID(), err)
	}

	that.logger.Info("client detached", "client_id", clientID, "session_id", sess.ID())

	return nil
}

// List returns a copy of every attached client.
func (that *Registry) List() []entity.ClientInfo {
	that.mu.RLock()
	out := make([]entity.ClientInfo, 0, len(that.clients))
	for _, client := range that.clients {
		out = append(out, client.Info())
	}
	that.mu.RUnlock()

	slices.SortFunc(out, func(a, b entity.ClientInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return out
}

// Sessions returns a copy of every live session.
func (that *Registry) Sessions() []session.Info {
	that.mu.RLock()
	out := make([]session.Info, 0, len(that.sessions))
	for _, sess := range that.sessions {
		out = append(out, sess.Info())
	}
	that.mu.RUnlock()

	slices.SortFunc(out, func(a, b session.Info) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return out
}

func (that *Registry) Session(id string) (*session.Session, bool) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	sess, ok := that.sessions[id]
	return sess, ok
}

// Drain refuses new sessions and waits for the running ones to end on their own.
func (that *Registry) Drain(ctx context.Context) error {
	for _, sess := range that.stop() {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// CloseAll ends every session with reason.
func (that *Registry) CloseAll(ctx context.Context, reason string) {
	var wg sync.WaitGroup

	for _, sess := range that.stop() {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()

			if err := sess.Close(ctx, reason); err != nil && !errors.Is(err, apperror.ErrSessionClosed) {
				that.logger.Warn("failed to close session", "session_id", sess.ID(), "error", err)
			}
		}(sess)
	}

	wg.Wait()
}

func (that *Registry) stop() []*session.Session {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.closing = true

	out := make([]*session.Session, 0, len(that.sessions))
	for _, sess := range that.sessions {
		out = append(out, sess)
	}

	return out
}

// removeSession runs on the session goroutine when it ends.
func (that *Registry) removeSession(id string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.sessions, id)

	for clientID, client := range that.clients {
		if client.SessionID == id {
			client.SetStatus(entity.StatusGone)
			delete(that.clients, clientID)
		}
	}
}
