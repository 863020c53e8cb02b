package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/peerwatch/peerwatch/internal/model"
)

// Build variables - set by ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/peerwatch/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("peerwatch %s (%s)\n", version, commit)
		return
	}

	cfg, v, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg, v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, *viper.Viper, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil, fmt.Errorf("finding home directory: %w", err)
	}

	defaultDBPath := filepath.Join(home, ".local", "share", "peerwatch", "peerwatch.duckdb")

	v := viper.New()
	v.SetEnvPrefix("PEERWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("update-interval", model.DefaultUpdateInterval)
	v.SetDefault("enabled", true)
	v.SetDefault("enabled-stats", model.DefaultEnabledStats)
	v.SetDefault("push-job", model.DefaultJob)
	v.SetDefault("push-gzip", true)
	v.SetDefault("cleanup-period", model.DefaultCleanupPeriod)
	v.SetDefault("stale-age", model.DefaultStaleAge)
	v.SetDefault("relay-enabled", true)
	v.SetDefault("relay-port", defaultRelayPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("db-path", defaultDBPath)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "peerwatch", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, nil, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, nil, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if cfg.RelayPort <= 0 || cfg.RelayPort > 65535 {
		return cfg, nil, fmt.Errorf("invalid relay-port: %d", cfg.RelayPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, nil, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}

	// Expand ~ in db-path
	if strings.HasPrefix(cfg.DBPath, "~/") {
		cfg.DBPath = filepath.Join(home, cfg.DBPath[2:])
	}

	if cfg.RelayAddr == "" {
		cfg.RelayAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.RelayPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, v, nil
}
