package main

import (
	"context"
	"fmt"
	"os"

	"github.com/peerwatch/peerwatch/internal/relay"
)

// InputSourcePlugin is a small plugin primitive for wiring sample inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (relay.Source, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	RelayEnabled bool
	RelayAddr    string
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := make([]InputSourcePlugin, 0, 2)
	plugins = append(plugins, relayInputPlugin{
		addr:    cfg.RelayAddr,
		enabled: cfg.RelayEnabled,
	})
	plugins = append(plugins, stdinInputPlugin{})
	return plugins
}

type relayInputPlugin struct {
	addr    string
	enabled bool
}

func (p relayInputPlugin) Name() string { return "tcp" }

func (p relayInputPlugin) Enabled() bool { return p.enabled }

func (p relayInputPlugin) Build(_ context.Context) (relay.Source, error) {
	server := relay.NewServer(p.addr)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start relay server: %w", err)
	}
	return server, nil
}

type stdinInputPlugin struct{}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (relay.Source, error) {
	return relay.NewStdinSource(ctx, os.Stdin), nil
}
