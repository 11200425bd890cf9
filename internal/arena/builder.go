package arena

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rocketscienceinc/arena-backend/internal/broadcast"
	"github.com/rocketscienceinc/arena-backend/internal/config"
	"github.com/rocketscienceinc/arena-backend/internal/rules"
	"github.com/rocketscienceinc/arena-backend/internal/session"
	"github.com/rocketscienceinc/arena-backend/internal/store"
	"github.com/rocketscienceinc/arena-backend/internal/transport/kcp"
	"github.com/rocketscienceinc/arena-backend/internal/transport/rest"
)

var ErrInvalidConfig = errors.New("invalid arena configuration")

// StaticCandidates are tried in order when no static directory is configured.
var StaticCandidates = []string{"frontend", "static"}

type settings struct {
	listenAddress     string
	kcpAddress        string
	kcpIdleTimeout    time.Duration
	staticFiles       string
	maxSessions       int
	playersPerSession int
	skipLimit         int
	policy            string
	queueSize         int
	handshakeTimeout  time.Duration
	shutdownGrace     time.Duration
	clockInitial      time.Duration
	clockIncrement    time.Duration
	replayRetention   int
}

// Builder collects the arena settings. Build validates them and binds the listeners.
type Builder struct {
	engine   rules.Engine
	logger   *slog.Logger
	mirror   broadcast.Mirror
	tracer   trace.Tracer
	settings settings
}

func NewBuilder(engine rules.Engine) *Builder {
	that := &Builder{
		engine: engine,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		settings: settings{
			listenAddress:    ":8080",
			maxSessions:      64,
			skipLimit:        2,
			policy:           string(session.PolicyForfeit),
			queueSize:        64,
			handshakeTimeout: 5 * time.Second,
			shutdownGrace:    10 * time.Second,
			kcpIdleTimeout:   kcp.DefaultIdleTimeout,
			replayRetention:  store.DefaultReplayRetention,
		},
	}

	if engine != nil {
		that.settings.playersPerSession, _ = engine.Players()
	}

	return that
}

// FromConfig copies every arena key of conf.
func (that *Builder) FromConfig(conf *config.Config) *Builder {
	that.settings.listenAddress = conf.ListenAddress
	that.settings.kcpAddress = conf.KCPAddress
	that.settings.kcpIdleTimeout = conf.KCPIdleTimeout
	that.settings.staticFiles = conf.StaticFiles
	that.settings.maxSessions = conf.MaxSessions
	that.settings.playersPerSession = conf.PlayersPerSession
	that.settings.skipLimit = conf.DisconnectSkipLimit
	that.settings.policy = conf.DisconnectPolicy
	that.settings.queueSize = conf.OutboundQueueSize
	that.settings.handshakeTimeout = conf.HandshakeTimeout
	that.settings.shutdownGrace = conf.ShutdownGrace
	that.settings.clockInitial = conf.Clock.Initial
	that.settings.clockIncrement = conf.Clock.Increment
	that.settings.replayRetention = conf.ReplayRetention

	return that
}

func (that *Builder) Logger(logger *slog.Logger) *Builder {
	that.logger = logger
	return that
}

func (that *Builder) ListenAddress(addr string) *Builder {
	that.settings.listenAddress = addr
	return that
}

// KCPAddress enables the KCP listener. Empty disables it.
func (that *Builder) KCPAddress(addr string) *Builder {
	that.settings.kcpAddress = addr
	return that
}

// KCPIdleTimeout drops a KCP peer that sent nothing, not even a heartbeat, for d.
// Heartbeats go out at a third of it.
func (that *Builder) KCPIdleTimeout(d time.Duration) *Builder {
	that.settings.kcpIdleTimeout = d
	return that
}

func (that *Builder) StaticFiles(dir string) *Builder {
	that.settings.staticFiles = dir
	return that
}

func (that *Builder) MaxSessions(n int) *Builder {
	that.settings.maxSessions = n
	return that
}

func (that *Builder) PlayersPerSession(n int) *Builder {
	that.settings.playersPerSession = n
	return that
}

func (that *Builder) DisconnectSkipLimit(n int) *Builder {
	that.settings.skipLimit = n
	return that
}

func (that *Builder) DisconnectPolicy(policy string) *Builder {
	that.settings.policy = policy
	return that
}

func (that *Builder) OutboundQueueSize(n int) *Builder {
	that.settings.queueSize = n
	return that
}

func (that *Builder) HandshakeTimeout(d time.Duration) *Builder {
	that.settings.handshakeTimeout = d
	return that
}

func (that *Builder) ShutdownGrace(d time.Duration) *Builder {
	that.settings.shutdownGrace = d
	return that
}

func (that *Builder) Clock(initial, increment time.Duration) *Builder {
	that.settings.clockInitial = initial
	that.settings.clockIncrement = increment
	return that
}

// ReplayRetention is how many finished sessions are kept for replay.
func (that *Builder) ReplayRetention(n int) *Builder {
	that.settings.replayRetention = n
	return that
}

// Mirror publishes the public side of every version, e.g. to Redis.
func (that *Builder) Mirror(mirror broadcast.Mirror) *Builder {
	that.mirror = mirror
	return that
}

func (that *Builder) Tracer(tracer trace.Tracer) *Builder {
	that.tracer = tracer
	return that
}

// Build validates the settings and binds every listener, so an unusable address is
// reported here rather than by Run.
func (that *Builder) Build() (*Arena, error) {
	policy, sessCfg, err := that.validate()
	if err != nil {
		return nil, err
	}

	staticDir, err := rest.ResolveStaticDir(that.settings.staticFiles, StaticCandidates...)
	if err != nil {
		return nil, fmt.Errorf("%w: static files: %w", ErrInvalidConfig, err)
	}

	if staticDir == "" {
		that.logger.Warn("no static files directory found, viewer disabled", "candidates", StaticCandidates)
	}

	listener, err := net.Listen("tcp", that.settings.listenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", that.settings.listenAddress, err)
	}

	var kcpListener net.Listener
	if that.settings.kcpAddress != "" {
		kcpListener, err = kcp.Listen(that.settings.kcpAddress)
		if err != nil {
			_ = listener.Close()
			return nil, err
		}
	}

	sessCfg.Policy = policy

	return newArena(that, sessCfg, staticDir, listener, kcpListener), nil
}

func (that *Builder) validate() (session.Policy, session.Config, error) {
	s := that.settings

	if that.engine == nil {
		return "", session.Config{}, fmt.Errorf("%w: rules engine is required", ErrInvalidConfig)
	}

	minPlayers, maxPlayers := that.engine.Players()
	if s.playersPerSession < minPlayers || s.playersPerSession > maxPlayers {
		return "", session.Config{}, fmt.Errorf("%w: %s needs %d to %d players, got %d",
			ErrInvalidConfig, that.engine.Name(), minPlayers, maxPlayers, s.playersPerSession)
	}

	if s.maxSessions < 1 {
		return "", session.Config{}, fmt.Errorf("%w: max sessions must be positive", ErrInvalidConfig)
	}

	if s.queueSize < 1 {
		return "", session.Config{}, fmt.Errorf("%w: outbound queue size must be positive", ErrInvalidConfig)
	}

	if s.replayRetention < 0 {
		return "", session.Config{}, fmt.Errorf("%w: replay retention must not be negative", ErrInvalidConfig)
	}

	if s.handshakeTimeout <= 0 || s.shutdownGrace < 0 || (s.kcpAddress != "" && s.kcpIdleTimeout <= 0) {
		return "", session.Config{}, fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}

	policy, err := session.ParsePolicy(s.policy)
	if err != nil {
		return "", session.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := session.Config{
		PlayersPerSession: s.playersPerSession,
		SkipLimit:         s.skipLimit,
		Policy:            policy,
		ClockInitial:      s.clockInitial,
		ClockIncrement:    s.clockIncrement,
	}

	if err := cfg.Validate(); err != nil {
		return "", session.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return policy, cfg, nil
}
