package main

import (
	"time"

	"github.com/peerwatch/peerwatch/internal/model"
)

const (
	defaultBindHost      = "127.0.0.1"
	defaultRelayPort     = 4580
	defaultAPIPort       = 4590
	defaultMuxBufferSize = DefaultMuxBuffer
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	UpdateInterval time.Duration `mapstructure:"update-interval"`
	Enabled        bool          `mapstructure:"enabled"`
	EnabledStats   []string      `mapstructure:"enabled-stats"`
	EnabledOrigins map[string]bool `mapstructure:"enabled-origins"`
	AgentID        string        `mapstructure:"agent-id"`

	PushURL      string `mapstructure:"push-url"`
	PushJob      string `mapstructure:"push-job"`
	PushUsername string `mapstructure:"push-username"`
	PushPassword string `mapstructure:"push-password"`
	PushGzip     bool   `mapstructure:"push-gzip"`

	CleanupPeriod time.Duration `mapstructure:"cleanup-period"`
	StaleAge      time.Duration `mapstructure:"stale-age"`

	RelayEnabled  bool   `mapstructure:"relay-enabled"`
	RelayPort     int    `mapstructure:"relay-port"`
	RelayAddr     string `mapstructure:"relay-addr"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size"`

	APIEnabled bool   `mapstructure:"api-enabled"`
	APIPort    int    `mapstructure:"api-port"`
	APIAddr    string `mapstructure:"api-addr"`

	DBPath     string `mapstructure:"db-path"`
	ConfigPath string `mapstructure:"-"` // not from config file
}

func (c appConfig) samplingConfig() model.ConfigPush {
	return model.ConfigPush{
		URL:            c.PushURL,
		Enabled:        c.Enabled,
		UpdateInterval: c.UpdateInterval,
		EnabledStats:   c.EnabledStats,
		EnabledOrigins: c.EnabledOrigins,
	}
}
