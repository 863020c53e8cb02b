package model

import (
	"encoding/json"
	"time"
)

// ConnectionState mirrors the RTCPeerConnection connection state reported by
// producers. The zero value is StateUnknown.
type ConnectionState string

const (
	StateUnknown      ConnectionState = ""
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Terminal reports whether a connection in this state will never produce
// another stats report.
func (s ConnectionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Valid reports whether s is one of the known connection states.
func (s ConnectionState) Valid() bool {
	switch s {
	case StateNew, StateConnecting, StateConnected, StateDisconnected, StateFailed, StateClosed:
		return true
	}
	return false
}

// StatsEntry is one record from a peer connection's stats report. Fields is a
// flat bag of numeric/string/boolean values; map-valued fields carry one level
// of numeric sub-fields.
type StatsEntry struct {
	Type   string
	Fields map[string]any
}

// Sample is one observation of one peer connection at one instant. It is the
// canonical type produced by both the in-process sampler and the relay
// boundary, consumed exactly once by the formatter.
type Sample struct {
	ID      string
	PageURL string
	State   ConnectionState
	Values  []StatsEntry
}

// ConnectionRecord is one registry entry for a live-or-recently-live
// connection. A zero LastUpdateAt means the connection was never delivered
// or has been retired.
type ConnectionRecord struct {
	ID           string
	Origin       string
	LastUpdateAt time.Time
}

// ConfigPush is the configuration snapshot sent daemon-to-producer whenever
// settings change, and applied to the in-process sampler. On the wire the
// update interval travels as integer milliseconds.
type ConfigPush struct {
	URL            string
	Enabled        bool
	UpdateInterval time.Duration
	EnabledStats   []string
	EnabledOrigins map[string]bool
}

type wireConfigPush struct {
	URL            string          `json:"url"`
	Enabled        bool            `json:"enabled"`
	UpdateInterval int64           `json:"updateInterval"`
	EnabledStats   []string        `json:"enabledStats"`
	EnabledOrigins map[string]bool `json:"enabledOrigins,omitempty"`
}

func (c ConfigPush) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireConfigPush{
		URL:            c.URL,
		Enabled:        c.Enabled,
		UpdateInterval: c.UpdateInterval.Milliseconds(),
		EnabledStats:   c.EnabledStats,
		EnabledOrigins: c.EnabledOrigins,
	})
}

func (c *ConfigPush) UnmarshalJSON(data []byte) error {
	var w wireConfigPush
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = ConfigPush{
		URL:            w.URL,
		Enabled:        w.Enabled,
		UpdateInterval: time.Duration(w.UpdateInterval) * time.Millisecond,
		EnabledStats:   w.EnabledStats,
		EnabledOrigins: w.EnabledOrigins,
	}
	return nil
}

// OriginEnabled reports whether sampling is enabled for the given origin.
// Origins absent from the map inherit the global Enabled flag.
func (c ConfigPush) OriginEnabled(origin string) bool {
	if v, ok := c.EnabledOrigins[origin]; ok {
		return v
	}
	return c.Enabled
}
