// Package sampler reads stats reports from tracked peer connections on a
// fixed interval and emits samples into the pipeline.
package sampler

import (
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerwatch/peerwatch/internal/model"
)

// StatsSource is the capability a tracked connection must expose: a current
// page URL, a connection state, and a readable stats report. Reading a
// torn-down connection returns an error, which ends tracking for that id.
type StatsSource interface {
	PageURL() string
	State() model.ConnectionState
	StatsReport() ([]model.StatsEntry, error)
}

// Tracker owns one repeating sampling task per tracked connection. Each task
// holds its own cancellable handle; cancellation is an explicit Untrack or a
// terminal connection state, never an implicit timeout.
type Tracker struct {
	sink model.SampleSink

	mu    sync.Mutex
	cfg   model.ConfigPush
	tasks map[string]chan struct{}
}

// NewTracker creates a tracker emitting to sink with the given initial
// configuration.
func NewTracker(sink model.SampleSink, cfg model.ConfigPush) *Tracker {
	return &Tracker{
		sink:  sink,
		cfg:   cfg,
		tasks: make(map[string]chan struct{}),
	}
}

// Track registers a connection, mints its id, and arms the first sample
// immediately. It returns the assigned id.
func (t *Tracker) Track(src StatsSource) string {
	id := uuid.NewString()
	done := make(chan struct{})

	t.mu.Lock()
	t.tasks[id] = done
	t.mu.Unlock()

	go t.run(id, src, done)
	return id
}

// Untrack cancels the sampling task for id. Untracking an unknown id is a
// no-op.
func (t *Tracker) Untrack(id string) {
	t.mu.Lock()
	done, ok := t.tasks[id]
	if ok {
		delete(t.tasks, id)
	}
	t.mu.Unlock()

	if ok {
		close(done)
	}
}

// Apply swaps the configuration snapshot. New intervals take effect at each
// task's next tick.
func (t *Tracker) Apply(cfg model.ConfigPush) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
}

// Len returns the number of tracked connections.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Stop cancels every sampling task.
func (t *Tracker) Stop() {
	t.mu.Lock()
	tasks := t.tasks
	t.tasks = make(map[string]chan struct{})
	t.mu.Unlock()

	for _, done := range tasks {
		close(done)
	}
}

func (t *Tracker) config() model.ConfigPush {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

func (t *Tracker) run(id string, src StatsSource, done chan struct{}) {
	timer := time.NewTimer(0) // first sample fires immediately
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case <-timer.C:
		}

		cfg := t.config()
		if t.sampleOnce(id, src, cfg) {
			t.Untrack(id)
			return
		}

		interval := cfg.UpdateInterval
		if interval <= 0 {
			interval = model.DefaultUpdateInterval
		}
		timer.Reset(interval)
	}
}

// sampleOnce performs one tick and reports whether tracking should stop.
func (t *Tracker) sampleOnce(id string, src StatsSource, cfg model.ConfigPush) (stop bool) {
	pageURL := src.PageURL()

	// Disabled or unconfigured: keep ticking so a later re-enable is picked
	// up, but emit nothing.
	if cfg.URL == "" || !cfg.OriginEnabled(Origin(pageURL)) {
		return false
	}

	state := src.State()

	report, err := src.StatsReport()
	if err != nil {
		// The connection was torn down under us.
		log.Printf("sampler: reading stats for %s: %v", id, err)
		return true
	}

	values := filterReport(report, cfg.EnabledStats)
	if len(values) > 0 {
		t.sink.Offer(model.Sample{
			ID:      id,
			PageURL: pageURL,
			State:   state,
			Values:  values,
		})
	}

	// The terminal sample above is what drives eventual deletion at the
	// collector; after it there is nothing left to observe.
	return state.Terminal()
}

func filterReport(report []model.StatsEntry, enabled []string) []model.StatsEntry {
	allow := make(map[string]bool, len(enabled)+1)
	allow["peer-connection"] = true
	for _, typ := range enabled {
		allow[typ] = true
	}

	var out []model.StatsEntry
	for _, entry := range report {
		if allow[entry.Type] {
			out = append(out, entry)
		}
	}
	return out
}

// Origin extracts the label-compatible host from a page URL, falling back to
// the raw string when it does not parse.
func Origin(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}
	return u.Host
}
