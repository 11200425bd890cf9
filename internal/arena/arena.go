// Package arena wires listeners, the session registry and the broadcaster into a
// running game server.
package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"

	"github.com/rocketscienceinc/arena-backend/internal/broadcast"
	"github.com/rocketscienceinc/arena-backend/internal/entity"
	"github.com/rocketscienceinc/arena-backend/internal/registry"
	"github.com/rocketscienceinc/arena-backend/internal/session"
	"github.com/rocketscienceinc/arena-backend/internal/store"
	"github.com/rocketscienceinc/arena-backend/internal/transport"
	"github.com/rocketscienceinc/arena-backend/internal/transport/kcp"
	"github.com/rocketscienceinc/arena-backend/internal/transport/rest"
	"github.com/rocketscienceinc/arena-backend/internal/transport/websocket"
)

var ErrAlreadyRunning = errors.New("arena is already running")

type Arena struct {
	logger   *slog.Logger
	settings settings

	store    *store.Store
	registry *registry.Registry
	caster   *broadcast.Broadcaster

	staticDir   string
	listener    net.Listener
	kcpListener net.Listener

	running atomic.Bool

	connMu  sync.Mutex
	closing bool
	conns   sync.WaitGroup
}

func newArena(b *Builder, sessCfg session.Config, staticDir string, listener, kcpListener net.Listener) *Arena {
	logger := b.logger.With("component", "arena")

	st := store.New(b.engine, store.WithReplayRetention(b.settings.replayRetention))
	caster := broadcast.New(b.logger, b.mirror)

	reg := registry.New(b.logger, registry.Config{
		MaxSessions: b.settings.maxSessions,
		Session:     sessCfg,
	}, session.Deps{
		Store:       st,
		Broadcaster: caster,
		Logger:      b.logger,
		Tracer:      b.tracer,
	})

	return &Arena{
		logger:      logger,
		settings:    b.settings,
		store:       st,
		registry:    reg,
		caster:      caster,
		staticDir:   staticDir,
		listener:    listener,
		kcpListener: kcpListener,
	}
}

// Addr is the bound HTTP and WebSocket address.
func (that *Arena) Addr() net.Addr {
	return that.listener.Addr()
}

// KCPAddr is the bound KCP address, nil when KCP is disabled.
func (that *Arena) KCPAddr() net.Addr {
	if that.kcpListener == nil {
		return nil
	}

	return that.kcpListener.Addr()
}

// Clients returns a snapshot of every attached client.
func (that *Arena) Clients() []entity.ClientInfo {
	return that.registry.List()
}

// Sessions returns a snapshot of every live session.
func (that *Arena) Sessions() []session.Info {
	return that.registry.Sessions()
}

// Run serves until ctx is cancelled, then stops accepting, gives running sessions the
// shutdown grace period to finish and closes whatever is left.
func (that *Arena) Run(ctx context.Context) error {
	log := that.logger.With("method", "Run")

	if !that.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	// connections outlive ctx until the sessions were drained
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	handler := transport.HandlerFunc(that.serveConn)

	router := httprouter.New()
	websocket.New(connCtx, that.logger, handler).Register(router)
	rest.NewHandlers(that.logger, that.registry, that.store).Register(router, that.staticDir)

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("listening", "addr", that.listener.Addr().String(), "viewer", that.staticDir)
		if err := srv.Serve(that.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if that.kcpListener != nil {
		group.Go(func() error {
			idle := that.settings.kcpIdleTimeout
			return kcp.Serve(connCtx, that.logger, that.kcpListener, handler, kcp.WithHeartbeat(idle/3, idle))
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return that.shutdown(srv, cancelConns)
	})

	err := group.Wait()
	log.Info("arena stopped", "error", err)

	return err
}

func (that *Arena) shutdown(srv *http.Server, cancelConns context.CancelFunc) error {
	log := that.logger.With("method", "shutdown")
	log.Info("shutting down", "grace", that.settings.shutdownGrace, "sessions", len(that.registry.Sessions()))

	graceCtx, cancel := context.WithTimeout(context.Background(), that.settings.shutdownGrace)
	defer cancel()

	var errs []error

	// hijacked websocket connections are not waited for here
	if err := srv.Shutdown(graceCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop HTTP server: %w", err))
	}

	if that.kcpListener != nil {
		if err := that.kcpListener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop KCP listener: %w", err))
		}
	}

	if err := that.registry.Drain(graceCtx); err != nil {
		log.Warn("sessions still running after grace period, closing them", "error", err)

		closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		that.registry.CloseAll(closeCtx, session.ReasonShutdown)
		cancelClose()
	}

	that.connMu.Lock()
	that.closing = true
	that.connMu.Unlock()

	that.waitConns(time.Second)
	cancelConns()
	that.conns.Wait()

	return errors.Join(errs...)
}

// waitConns gives write pumps a moment to flush the final frames.
func (that *Arena) waitConns(limit time.Duration) {
	done := make(chan struct{})
	go func() {
		that.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(limit):
	}
}
