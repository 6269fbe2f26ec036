// Package config loads the server's configuration entirely from
// environment variables, with defaults filled in by creasty/defaults
// before envconfig overlays whatever the environment sets.
package config

import (
	"github.com/creasty/defaults"
	"github.com/kelseyhightower/envconfig"
)

// Cfg is the full server configuration surface.
type Cfg struct {
	PrivateKeyFile string `envconfig:"PRIVATE_KEY_FILE" default:"./private_key.pem"`
	ServerBindAddr string `envconfig:"SERVER_BIND_ADDR" default:"0.0.0.0:3000"`

	RateLimitPerSecond int `envconfig:"RATE_LIMIT_PER_SECOND" default:"10"`
	RateLimitBurstSize int `envconfig:"RATE_LIMIT_BURST_SIZE" default:"20"`

	PostgresURL            string `envconfig:"POSTGRES_URL" required:"true"`
	PostgresRunMigrations  bool   `envconfig:"POSTGRES_RUN_MIGRATIONS" default:"false"`

	CatalogFile string `envconfig:"CATALOG_FILE" default:""`

	Production bool   `envconfig:"PRODUCTION" default:"false"`
	LogPath    string `envconfig:"LOG_PATH" default:""`
}

// New loads Cfg from the environment.
func New() (*Cfg, error) {
	cfg := &Cfg{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
