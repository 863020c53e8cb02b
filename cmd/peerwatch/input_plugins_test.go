package main

import (
	"context"
	"testing"

	"github.com/peerwatch/peerwatch/internal/relay"
)

func TestBuildInputPlugins(t *testing.T) {
	plugins := buildInputPlugins(InputPluginConfig{
		RelayEnabled: true,
		RelayAddr:    "127.0.0.1:0",
	})

	if len(plugins) != 2 {
		t.Fatalf("plugins len = %d, want 2", len(plugins))
	}
	if plugins[0].Name() != "tcp" || plugins[1].Name() != "stdin" {
		t.Errorf("plugin names = %s, %s", plugins[0].Name(), plugins[1].Name())
	}
	if !plugins[0].Enabled() {
		t.Error("tcp plugin disabled despite RelayEnabled")
	}
}

func TestRelayPluginBuildsServer(t *testing.T) {
	plugin := relayInputPlugin{addr: "127.0.0.1:0", enabled: true}

	src, err := plugin.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer src.Stop()

	srv, ok := src.(*relay.Server)
	if !ok {
		t.Fatalf("Build returned %T, want *relay.Server", src)
	}
	if srv.Addr() == "" {
		t.Error("server has no listen address")
	}
}

func TestRelayPluginDisabled(t *testing.T) {
	plugin := relayInputPlugin{addr: "127.0.0.1:0", enabled: false}
	if plugin.Enabled() {
		t.Error("Enabled = true, want false")
	}
}
