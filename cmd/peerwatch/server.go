package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/peerwatch/peerwatch/internal/coordinator"
	"github.com/peerwatch/peerwatch/internal/exposition"
	"github.com/peerwatch/peerwatch/internal/httpserver"
	"github.com/peerwatch/peerwatch/internal/pushgw"
	"github.com/peerwatch/peerwatch/internal/registry"
	"github.com/peerwatch/peerwatch/internal/relay"
	"github.com/peerwatch/peerwatch/internal/store"
)

// runServer starts the export pipeline with the admin API.
func runServer(cfg appConfig, v *viper.Viper) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	// Persistence for settings and connection records. A store failure is a
	// configuration-class error: degrade to memory-only rather than abort.
	var reg *registry.Registry
	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Printf("server: opening store at %s: %v (running without persistence)", cfg.DBPath, err)
		reg = registry.New(nil)
	} else {
		defer st.Close()
		if err := st.EnsureDefaults(settingsDefaults(cfg)); err != nil {
			log.Printf("server: ensuring setting defaults: %v", err)
		}
		reg = registry.New(st)
	}

	client := pushgw.NewClient(deliveryConfig(cfg))
	coord := coordinator.New(reg, client, coordinatorConfig(cfg))

	sweeper := coordinator.NewSweeper(coord)
	defer sweeper.Stop()

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now — not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	// Build input plugins and source multiplexer
	plugins := buildInputPlugins(InputPluginConfig{
		RelayEnabled: cfg.RelayEnabled,
		RelayAddr:    cfg.RelayAddr,
	})

	var relayServer *relay.Server
	sources := make([]relay.Source, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Printf("Error initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		if srv, ok := src.(*relay.Server); ok {
			relayServer = srv
		}
		sources = append(sources, src)
	}

	// Producers receive the config snapshot on connect and on every change.
	if relayServer != nil {
		coord.OnConfigChange(relayServer.Broadcast)
	}

	// Start the admin API if enabled
	if cfg.APIEnabled {
		status := httpserver.Status{BreakerStatus: client.Breaker().Status}
		if relayServer != nil {
			status.ProducerCount = relayServer.ClientCount
		}
		apiServer := httpserver.NewServer(cfg.APIAddr, reg, coord, status)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Re-apply configuration when the config file changes on disk.
	watchConfig(v, coord)

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	printStartupBanner(cfg, relayServer)

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	if mux.HasSources() {
		g.Go(func() error {
			coord.Run(gctx, mux.Samples())
			return nil
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()
	mux.Stop()
	signal.Stop(sigCh)

	return nil
}

func deliveryConfig(cfg appConfig) pushgw.Config {
	return pushgw.Config{
		BaseURL:  cfg.PushURL,
		Job:      cfg.PushJob,
		Username: cfg.PushUsername,
		Password: cfg.PushPassword,
		Gzip:     cfg.PushGzip,
	}
}

func coordinatorConfig(cfg appConfig) coordinator.Config {
	return coordinator.Config{
		Delivery:      deliveryConfig(cfg),
		Sampling:      cfg.samplingConfig(),
		Exposition:    exposition.Options{AgentID: cfg.AgentID},
		CleanupPeriod: cfg.CleanupPeriod,
		StaleAge:      cfg.StaleAge,
	}
}

// settingsDefaults is the first-run settings seed; existing values win.
func settingsDefaults(cfg appConfig) map[string]string {
	return map[string]string{
		"push-url":        cfg.PushURL,
		"push-job":        cfg.PushJob,
		"update-interval": cfg.UpdateInterval.String(),
		"cleanup-period":  cfg.CleanupPeriod.String(),
		"stale-age":       cfg.StaleAge.String(),
		"agent-id":        cfg.AgentID,
		"push-gzip":       strconv.FormatBool(cfg.PushGzip),
	}
}

func watchConfig(v *viper.Viper, coord *coordinator.Coordinator) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(fsnotify.Event) {
		var updated appConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("server: reloading config: %v", err)
			return
		}
		log.Printf("server: config file changed, applying")
		coord.ApplyConfig(coordinatorConfig(updated))
	})
	v.WatchConfig()
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "peerwatch")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "peerwatch.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, relayServer *relay.Server) {
	fmt.Printf("peerwatch %s\n", version)
	if relayServer != nil {
		fmt.Printf("  relay     %s\n", relayServer.Addr())
	} else {
		fmt.Printf("  relay     disabled\n")
	}
	if cfg.APIEnabled {
		fmt.Printf("  admin api %s\n", cfg.APIAddr)
	} else {
		fmt.Printf("  admin api disabled\n")
	}
	if cfg.PushURL != "" {
		fmt.Printf("  collector %s (job %s)\n", cfg.PushURL, cfg.PushJob)
	} else {
		fmt.Printf("  collector unconfigured — samples will be dropped\n")
	}
	if cfg.ConfigPath != "" {
		fmt.Printf("  config    %s\n", cfg.ConfigPath)
	}
	fmt.Println("Press Ctrl+C to stop")
}
