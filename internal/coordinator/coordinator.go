// Package coordinator wires the relay, formatter, delivery client, and
// registry into the export pipeline and owns the periodic staleness sweep.
package coordinator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/peerwatch/peerwatch/internal/exposition"
	"github.com/peerwatch/peerwatch/internal/model"
	"github.com/peerwatch/peerwatch/internal/pushgw"
	"github.com/peerwatch/peerwatch/internal/registry"
	"github.com/peerwatch/peerwatch/internal/sampler"
)

// Config is the full runtime configuration the coordinator fans out to the
// delivery- and sampler-facing components.
type Config struct {
	Delivery   pushgw.Config
	Sampling   model.ConfigPush
	Exposition exposition.Options

	// CleanupPeriod is how often the staleness sweep runs; StaleAge is the
	// last-update age beyond which a connection is retired.
	CleanupPeriod time.Duration
	StaleAge      time.Duration
}

func (c Config) withDefaults() Config {
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = model.DefaultCleanupPeriod
	}
	if c.StaleAge <= 0 {
		c.StaleAge = model.DefaultStaleAge
	}
	return c
}

// Coordinator consumes samples, formats and delivers them, and retires stale
// connections. It is safe for concurrent use by the sample loop and the
// sweeper.
type Coordinator struct {
	registry *registry.Registry
	client   *pushgw.Client

	mu        sync.Mutex
	cfg       Config
	listeners []func(model.ConfigPush)

	now func() time.Time
}

// New creates a coordinator over the given registry and delivery client.
func New(reg *registry.Registry, client *pushgw.Client, cfg Config) *Coordinator {
	return &Coordinator{
		registry: reg,
		client:   client,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// OnConfigChange registers a sampler-facing component (relay broadcast, local
// tracker) to receive configuration pushes. The current snapshot is delivered
// immediately.
func (c *Coordinator) OnConfigChange(fn func(model.ConfigPush)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	snapshot := c.cfg.Sampling
	c.mu.Unlock()

	fn(snapshot)
}

// ApplyConfig swaps the configuration and propagates it synchronously:
// delivery settings to the client, sampling settings to every registered
// listener.
func (c *Coordinator) ApplyConfig(cfg Config) {
	cfg = cfg.withDefaults()

	c.mu.Lock()
	c.cfg = cfg
	listeners := make([]func(model.ConfigPush), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	c.client.Reconfigure(cfg.Delivery)
	for _, fn := range listeners {
		fn(cfg.Sampling)
	}
}

// Run consumes samples until the channel closes or ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, samples <-chan model.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				return
			}
			c.HandleSample(ctx, sample)
		}
	}
}

// HandleSample formats and delivers one sample. Only a successful delivery
// advances the registry's staleness clock; every failure is logged and left
// to the next tick.
func (c *Coordinator) HandleSample(ctx context.Context, sample model.Sample) {
	c.mu.Lock()
	opts := c.cfg.Exposition
	c.mu.Unlock()

	block := exposition.Format(sample, opts)
	if block == "" {
		return
	}

	err := c.client.Push(ctx, sample.ID, block)
	switch {
	case err == nil:
		c.registry.RecordDelivery(sample.ID, sampler.Origin(sample.PageURL), c.now())
	case errors.Is(err, pushgw.ErrBreakerOpen):
		log.Printf("coordinator: push %s rejected, breaker open", sample.ID)
	default:
		log.Printf("coordinator: push %s failed: %v", sample.ID, err)
	}
}

// Sweep retires every connection whose last successful delivery is older than
// the configured stale age. The remote DELETE is attempted once; the id is
// removed locally regardless of the outcome so one unreachable collector
// cannot make the sweep grow without bound.
func (c *Coordinator) Sweep(ctx context.Context) {
	c.mu.Lock()
	staleAge := c.cfg.StaleAge
	c.mu.Unlock()

	stale := c.registry.SweepStale(c.now(), staleAge)
	for _, id := range stale {
		if err := c.client.Delete(ctx, id); err != nil {
			log.Printf("coordinator: delete %s failed (retiring locally anyway): %v", id, err)
		}
		c.registry.RecordRetirement(id)
	}
	if len(stale) > 0 {
		log.Printf("coordinator: retired %d stale connections", len(stale))
	}
}

// CleanupPeriod returns the configured sweep period.
func (c *Coordinator) CleanupPeriod() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.CleanupPeriod
}

// EffectiveConfig returns the current configuration snapshot, for the admin
// API.
func (c *Coordinator) EffectiveConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}
