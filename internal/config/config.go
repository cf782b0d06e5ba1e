package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries everything relayd needs to run. Defaults come from the
// struct tags, the environment overrides them, and flags override both.
type Config struct {
	ServerAddr      string        `envconfig:"ADDR" default:":3000"`
	StaticDir       string        `envconfig:"STATIC_DIR" default:"frontend/dist"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	RoomGracePeriod time.Duration `envconfig:"ROOM_GRACE_PERIOD" default:"60s"`
}

// FromEnv loads the configuration from RELAY_-prefixed environment
// variables, filling defaults for anything unset.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("relay", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.RoomGracePeriod <= 0 {
		return fmt.Errorf("room grace period must be positive")
	}

	return nil
}
