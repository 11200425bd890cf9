package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel            string        `yaml:"log-level" env:"ARENA_LOG_LEVEL" env-default:"info"`
	ListenAddress       string        `yaml:"listen-address" env:"ARENA_LISTEN_ADDRESS" env-default:":8080"`
	KCPAddress          string        `yaml:"kcp-address" env:"ARENA_KCP_ADDRESS"`
	KCPIdleTimeout      time.Duration `yaml:"kcp-idle-timeout" env:"ARENA_KCP_IDLE_TIMEOUT" env-default:"15s"`
	StaticFiles         string        `yaml:"static-files" env:"ARENA_STATIC_FILES"`
	MaxSessions         int           `yaml:"max-sessions" env:"ARENA_MAX_SESSIONS" env-default:"64"`
	PlayersPerSession   int           `yaml:"players-per-session" env:"ARENA_PLAYERS_PER_SESSION" env-default:"2"`
	DisconnectSkipLimit int           `yaml:"disconnect-skip-limit" env:"ARENA_DISCONNECT_SKIP_LIMIT" env-default:"2"`
	DisconnectPolicy    string        `yaml:"disconnect-policy" env:"ARENA_DISCONNECT_POLICY" env-default:"forfeit"`
	OutboundQueueSize   int           `yaml:"outbound-queue-size" env:"ARENA_OUTBOUND_QUEUE_SIZE" env-default:"64"`
	HandshakeTimeout    time.Duration `yaml:"handshake-timeout" env:"ARENA_HANDSHAKE_TIMEOUT" env-default:"5s"`
	ShutdownGrace       time.Duration `yaml:"shutdown-grace" env:"ARENA_SHUTDOWN_GRACE" env-default:"10s"`
	ReplayRetention     int           `yaml:"replay-retention" env:"ARENA_REPLAY_RETENTION" env-default:"16"`
	Clock               Clock         `yaml:"clock"`
	Redis               Redis         `yaml:"redis"`
	Telemetry           Telemetry     `yaml:"telemetry"`
}

// Clock is the per-player time bank. A zero Initial disables timed turns.
type Clock struct {
	Initial   time.Duration `yaml:"initial" env:"ARENA_CLOCK_INITIAL" env-default:"0s"`
	Increment time.Duration `yaml:"increment" env:"ARENA_CLOCK_INCREMENT" env-default:"0s"`
}

type Redis struct {
	Enabled bool   `yaml:"enabled" env:"ARENA_REDIS_ENABLED" env-default:"false"`
	Host    string `yaml:"host" env:"ARENA_REDIS_HOST" env-default:"localhost"`
	Port    string `yaml:"port" env:"ARENA_REDIS_PORT" env-default:"6379"`
}

// Telemetry exports traces over OTLP/HTTP when Endpoint is set.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint" env:"ARENA_OTEL_ENDPOINT"`
	ServiceName string `yaml:"service-name" env:"ARENA_OTEL_SERVICE_NAME" env-default:"arena"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(err)
	}

	return config
}

// Load reads path and applies environment overrides.
func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	return config, nil
}

// Default returns the configuration built from defaults and the environment only.
func Default() (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("unable to read environment: %w", err)
	}

	return config, nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
