// Package server provides configuration helpers that define runtime defaults,
// environment overrides, and validation for the relay.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/dickyybayu/advprog-module10-broadcast/internal/hub"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "RELAY"

// Config holds the relay settings. Every field can be overridden with a
// RELAY_-prefixed environment variable.
type Config struct {
	// ListenAddr is the host:port the HTTP listener binds to.
	ListenAddr string `envconfig:"LISTEN_ADDR" validate:"required"`
	// AllowedOrigins lists the browser origins allowed to open a WebSocket.
	// "*" accepts every origin, including clients that send none.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	// MaxMessageSize bounds a single inbound frame in bytes.
	MaxMessageSize int64 `envconfig:"MAX_MESSAGE_SIZE" validate:"gte=64"`
	// BroadcastCapacity is the number of hub items a slow connection may
	// fall behind before it starts losing the oldest ones.
	BroadcastCapacity int `envconfig:"BROADCAST_CAPACITY" validate:"gte=1"`
	// PingInterval is the keepalive period. Zero disables pings and read
	// deadlines altogether.
	PingInterval time.Duration `envconfig:"PING_INTERVAL" validate:"gte=0"`
	// PongWait is how long a connection may stay silent, pongs included,
	// while keepalive is enabled.
	PongWait time.Duration `envconfig:"PONG_WAIT" validate:"gtfield=PingInterval"`
	// WriteWait bounds every write to a client.
	WriteWait       time.Duration `envconfig:"WRITE_WAIT" validate:"gt=0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	LogLevel        string        `envconfig:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" validate:"oneof=console json"`
}

var validate = validator.New()

func defaultConfig() Config {
	return Config{
		ListenAddr:        "127.0.0.1:8080",
		AllowedOrigins:    []string{"*"},
		MaxMessageSize:    4096,
		BroadcastCapacity: hub.DefaultCapacity,
		PingInterval:      54 * time.Second,
		PongWait:          60 * time.Second,
		WriteWait:         10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv starts from the defaults and applies any RELAY_* environment
// variables. The result is validated.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads the given dotenv files (".env" when none are given) into
// the process environment and then calls NewConfigFromEnv. Missing files are
// ignored; variables already set in the environment win over file values.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return NewConfigFromEnv()
}

// Validate reports the first constraint violated by the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// KeepaliveEnabled reports whether ping/pong keepalive is configured.
func (c *Config) KeepaliveEnabled() bool {
	return c.PingInterval > 0
}
