package model

import "time"

// Shared defaults used by the daemon and its components.
const (
	DefaultUpdateInterval = 2 * time.Second
	DefaultCleanupPeriod  = 60 * time.Minute
	DefaultStaleAge       = 60 * time.Minute
	DefaultJob            = "peerwatch"
)

// DefaultEnabledStats is the stats-type allow list applied when no explicit
// list is configured. "peer-connection" is always sampled regardless of this
// list.
var DefaultEnabledStats = []string{
	"inbound-rtp",
	"outbound-rtp",
	"remote-inbound-rtp",
	"remote-outbound-rtp",
	"candidate-pair",
	"transport",
	"codec",
	"media-source",
}
