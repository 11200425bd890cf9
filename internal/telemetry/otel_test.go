package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/arena-backend/internal/config"
)

func TestSetup(t *testing.T) {
	t.Run("No endpoint keeps tracing off", func(t *testing.T) {
		// When: telemetry has no endpoint
		shutdown, err := Setup(context.Background(), config.Telemetry{ServiceName: "arena"})

		// Then: the shutdown function is a no-op, even on a cancelled context
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, shutdown(ctx))
	})

	t.Run("An endpoint registers a provider that shuts down cleanly", func(t *testing.T) {
		// Given: a non-routable collector so nothing is exported
		conf := config.Telemetry{Endpoint: "http://192.0.2.1:4318", ServiceName: "arena-test"}

		// When: telemetry is set up
		shutdown, err := Setup(context.Background(), conf)

		// Then: shutdown flushes without error
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
	})
}
