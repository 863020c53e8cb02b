package pushgw

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when a call is rejected without a network
// attempt because the destination's circuit breaker is open. It is distinct
// from transport failures so callers can log it without double-counting.
var ErrBreakerOpen = errors.New("pushgw: circuit breaker open")

const (
	// DefaultFailureThreshold is the number of consecutive failures that
	// trips the breaker.
	DefaultFailureThreshold = 3

	// DefaultCooldown is how long an open breaker rejects calls before
	// allowing a single probe through.
	DefaultCooldown = 30 * time.Second
)

type breakerStatus int

const (
	breakerClosed breakerStatus = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerStatus) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a circuit breaker shared by all deliveries to one destination.
// One misbehaving collector protects every connection pushing to it.
type Breaker struct {
	mu        sync.Mutex
	status    breakerStatus
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker creates a closed breaker with the given threshold and cooldown.
// Zero values select the defaults.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and the
// cooldown has elapsed it transitions to half-open and admits exactly one
// probe; further calls are rejected until that probe's outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		// A probe is already in flight.
		return false
	default:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.status = breakerHalfOpen
		return true
	}
}

// RecordSuccess resets the failure count and forces the breaker closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.status = breakerClosed
}

// RecordFailure counts one failed call. Crossing the threshold, or failing
// the half-open probe, opens the breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.status == breakerHalfOpen || b.failures >= b.threshold {
		b.status = breakerOpen
		b.openedAt = b.now()
	}
}

// Status returns the current state name, for the admin API.
func (b *Breaker) Status() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status.String()
}
