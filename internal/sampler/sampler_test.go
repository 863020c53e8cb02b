package sampler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peerwatch/peerwatch/internal/model"
)

type fakeConnection struct {
	mu     sync.Mutex
	url    string
	state  model.ConnectionState
	report []model.StatsEntry
	err    error
}

func (f *fakeConnection) PageURL() string { return f.url }

func (f *fakeConnection) State() model.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConnection) StatsReport() ([]model.StatsEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report, f.err
}

func (f *fakeConnection) set(state model.ConnectionState, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.err = err
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		url:   "https://meet.example.com/room",
		state: model.StateConnected,
		report: []model.StatsEntry{
			{Type: "peer-connection", Fields: map[string]any{"dataChannelsOpened": 1}},
			{Type: "inbound-rtp", Fields: map[string]any{"packetsReceived": 10}},
			{Type: "certificate", Fields: map[string]any{"fingerprint": "aa:bb"}},
		},
	}
}

type sinkChan chan model.Sample

func (s sinkChan) Offer(sample model.Sample) { s <- sample }

func enabledConfig() model.ConfigPush {
	return model.ConfigPush{
		URL:            "https://push.example.com",
		Enabled:        true,
		UpdateInterval: 20 * time.Millisecond,
		EnabledStats:   []string{"inbound-rtp"},
	}
}

func waitSample(t *testing.T, sink sinkChan) model.Sample {
	t.Helper()
	select {
	case s := <-sink:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sample")
		return model.Sample{}
	}
}

func TestTrackEmitsImmediately(t *testing.T) {
	sink := make(sinkChan, 16)
	tr := NewTracker(sink, enabledConfig())
	defer tr.Stop()

	id := tr.Track(newFakeConnection())
	if id == "" {
		t.Fatal("Track returned empty id")
	}

	sample := waitSample(t, sink)
	if sample.ID != id {
		t.Errorf("sample id = %q, want %q", sample.ID, id)
	}
	if sample.State != model.StateConnected {
		t.Errorf("state = %q", sample.State)
	}
}

func TestFilterAllowList(t *testing.T) {
	sink := make(sinkChan, 16)
	tr := NewTracker(sink, enabledConfig())
	defer tr.Stop()

	tr.Track(newFakeConnection())
	sample := waitSample(t, sink)

	types := map[string]bool{}
	for _, entry := range sample.Values {
		types[entry.Type] = true
	}
	if !types["peer-connection"] || !types["inbound-rtp"] {
		t.Errorf("allow-listed types missing: %v", types)
	}
	if types["certificate"] {
		t.Error("certificate passed the allow-list filter")
	}
}

func TestTerminalStateFinalSample(t *testing.T) {
	sink := make(sinkChan, 64)
	tr := NewTracker(sink, enabledConfig())
	defer tr.Stop()

	conn := newFakeConnection()
	tr.Track(conn)
	waitSample(t, sink)

	conn.set(model.StateClosed, nil)

	// One final closed sample, then no further ticks for this id.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sample := <-sink:
			if sample.State == model.StateClosed {
				goto closed
			}
		case <-deadline:
			t.Fatal("never saw the final closed sample")
		}
	}
closed:
	if tr.Len() != 0 {
		t.Errorf("Len = %d after terminal sample, want 0", tr.Len())
	}
	select {
	case sample := <-sink:
		if sample.State == model.StateClosed {
			t.Error("terminal sample emitted more than once")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReadErrorStopsTracking(t *testing.T) {
	sink := make(sinkChan, 64)
	tr := NewTracker(sink, enabledConfig())
	defer tr.Stop()

	conn := newFakeConnection()
	tr.Track(conn)
	waitSample(t, sink)

	conn.set(model.StateConnected, errors.New("connection torn down"))

	deadline := time.Now().Add(2 * time.Second)
	for tr.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("tracker never dropped the failing connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisabledKeepsTickingEmitsNothing(t *testing.T) {
	sink := make(sinkChan, 64)
	cfg := enabledConfig()
	cfg.Enabled = false
	tr := NewTracker(sink, cfg)
	defer tr.Stop()

	tr.Track(newFakeConnection())

	select {
	case sample := <-sink:
		t.Fatalf("disabled tracker emitted %+v", sample)
	case <-time.After(100 * time.Millisecond):
	}

	// Re-enabling is detected by the still-running tick.
	tr.Apply(enabledConfig())
	waitSample(t, sink)
}

func TestUnconfiguredDestinationEmitsNothing(t *testing.T) {
	sink := make(sinkChan, 64)
	cfg := enabledConfig()
	cfg.URL = ""
	tr := NewTracker(sink, cfg)
	defer tr.Stop()

	tr.Track(newFakeConnection())
	select {
	case sample := <-sink:
		t.Fatalf("unconfigured tracker emitted %+v", sample)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOriginDisable(t *testing.T) {
	sink := make(sinkChan, 64)
	cfg := enabledConfig()
	cfg.EnabledOrigins = map[string]bool{"meet.example.com": false}
	tr := NewTracker(sink, cfg)
	defer tr.Stop()

	tr.Track(newFakeConnection())
	select {
	case sample := <-sink:
		t.Fatalf("origin-disabled tracker emitted %+v", sample)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUntrackCancelsTask(t *testing.T) {
	sink := make(sinkChan, 64)
	tr := NewTracker(sink, enabledConfig())
	defer tr.Stop()

	id := tr.Track(newFakeConnection())
	waitSample(t, sink)

	tr.Untrack(id)
	if tr.Len() != 0 {
		t.Errorf("Len = %d after Untrack, want 0", tr.Len())
	}
	tr.Untrack(id) // unknown id is a no-op
}

func TestOrigin(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://meet.example.com/room/1", "meet.example.com"},
		{"https://meet.example.com:8443/x", "meet.example.com:8443"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := Origin(tt.in); got != tt.want {
			t.Errorf("Origin(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
