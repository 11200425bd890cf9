package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rocketscienceinc/arena-backend/internal/arena"
	"github.com/rocketscienceinc/arena-backend/internal/config"
	"github.com/rocketscienceinc/arena-backend/internal/repository"
	"github.com/rocketscienceinc/arena-backend/internal/repository/storage"
	"github.com/rocketscienceinc/arena-backend/internal/rules/tictactoe"
	"github.com/rocketscienceinc/arena-backend/internal/service"
	"github.com/rocketscienceinc/arena-backend/internal/telemetry"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

const flushTimeout = 5 * time.Second

// RunApp - runs the arena until SIGINT or SIGTERM.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := telemetry.Setup(ctx, conf.Telemetry)
	if err != nil {
		return fmt.Errorf("could not set up tracing: %w", err)
	}

	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
		defer flushCancel()

		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("could not flush traces", "error", err)
		}
	}()

	builder := arena.NewBuilder(tictactoe.NewEngine()).
		FromConfig(conf).
		Logger(logger)

	if conf.Redis.Enabled {
		stopMirror, err := startMirror(ctx, logger, conf, builder)
		if err != nil {
			return err
		}
		defer stopMirror()
	}

	server, err := builder.Build()
	if err != nil {
		return fmt.Errorf("could not build arena: %w", err)
	}

	log.Info("Starting arena", "addr", server.Addr().String(), "kcp", conf.KCPAddress)

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("arena error: %w", err)
	}

	log.Info("Application context canceled, shutting down")

	return nil
}

// startMirror connects to Redis and plugs a snapshot mirror into builder. The returned
// function stops the mirror once the arena is done, so final removals are written.
func startMirror(ctx context.Context, logger *slog.Logger, conf *config.Config, builder *arena.Builder) (func(), error) {
	log := logger.With("component", "app", "method", "startMirror")

	if conf.Redis.Host == "" {
		return nil, ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, conf.Redis.GetRedisAddr())
	if err != nil {
		return nil, fmt.Errorf("could not connect to redis storage: %w", err)
	}

	mirror := service.NewMirror(logger, repository.NewSnapshotRepository(redisStorage), conf.OutboundQueueSize*conf.MaxSessions)
	builder.Mirror(mirror)

	mirrorCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = mirror.Run(mirrorCtx)
	}()

	return func() {
		stop()
		<-done

		if err := redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}, nil
}
