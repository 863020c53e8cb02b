// Package registry tracks which peer connections are alive so stale series
// can be retired from the collector even when the producer's "closed" event
// is lost.
package registry

import (
	"log"
	"sync"
	"time"

	"github.com/peerwatch/peerwatch/internal/model"
)

// Registry tracks the last successful delivery per connection id. It is safe
// for concurrent use by the delivery path and the cleanup sweeper.
type Registry struct {
	mu      sync.Mutex
	records map[string]model.ConnectionRecord
	retired map[string]time.Time
	store   model.ConnectionStore
}

// New creates a registry. When store is non-nil, records are loaded from it
// at construction and every mutation is written behind; persistence failures
// are logged, never propagated.
func New(store model.ConnectionStore) *Registry {
	r := &Registry{
		records: make(map[string]model.ConnectionRecord),
		retired: make(map[string]time.Time),
		store:   store,
	}

	if store != nil {
		recs, err := store.ListConnections()
		if err != nil {
			log.Printf("registry: loading persisted connections: %v", err)
			return r
		}
		for _, rec := range recs {
			r.records[rec.ID] = rec
		}
	}
	return r
}

// RecordDelivery upserts the record for id, advancing its last-update
// timestamp. Call it only after a delivery succeeds: failed attempts must not
// reset the staleness clock, or a dead connection behind a flaky network
// would be kept alive indefinitely.
func (r *Registry) RecordDelivery(id, origin string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, gone := r.retired[id]; gone {
		return
	}
	rec := model.ConnectionRecord{ID: id, Origin: origin, LastUpdateAt: at}
	r.records[id] = rec

	if r.store != nil {
		if err := r.store.UpsertConnection(rec); err != nil {
			log.Printf("registry: persisting connection %s: %v", id, err)
		}
	}
}

// RecordRetirement removes id from the active set and remembers it so no
// later sweep selects it again. The memory is released once the retirement is
// older than the sweep's stale window; a delivery arriving after that is a new
// record and ages out on its own.
func (r *Registry) RecordRetirement(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, id)
	r.retired[id] = time.Now()

	if r.store != nil {
		if err := r.store.DeleteConnection(id); err != nil {
			log.Printf("registry: deleting connection %s: %v", id, err)
		}
	}
}

// SweepStale returns the ids whose last update predates now-maxAge. Retired
// ids are never returned. This is the sole recovery path for lost "connection
// closed" notifications.
func (r *Registry) SweepStale(now time.Time, maxAge time.Duration) []string {
	cutoff := now.Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for id, rec := range r.records {
		if rec.LastUpdateAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}

	// Retirements older than the window can no longer race a stale delivery,
	// so forget them and keep the set bounded.
	for id, at := range r.retired {
		if at.Before(cutoff) {
			delete(r.retired, id)
		}
	}
	return stale
}

// Records returns a snapshot of the active records, for the admin API.
func (r *Registry) Records() []model.ConnectionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.ConnectionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of active records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
