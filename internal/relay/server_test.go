package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/peerwatch/peerwatch/internal/model"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer("127.0.0.1:0")
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func dialProducer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSample(t *testing.T, srv *Server) model.Sample {
	t.Helper()
	select {
	case sample := <-srv.Samples():
		return sample
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sample")
		return model.Sample{}
	}
}

func TestServerRelaysSamples(t *testing.T) {
	srv := startTestServer(t)
	conn := dialProducer(t, srv)

	line := `{"event":"peer-connection-stats","data":{"id":"conn-1","url":"https://a","state":"connected","values":[{"type":"transport","bytesSent":5}]}}` + "\n"
	if _, err := conn.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}

	sample := waitSample(t, srv)
	if sample.ID != "conn-1" || len(sample.Values) != 1 {
		t.Errorf("sample = %+v", sample)
	}
}

func TestServerPerConnectionOrdering(t *testing.T) {
	srv := startTestServer(t)
	conn := dialProducer(t, srv)

	var lines strings.Builder
	for _, state := range []string{"new", "connecting", "connected"} {
		lines.WriteString(`{"event":"peer-connection-stats","data":{"id":"conn-1","state":"` + state + `","values":[{"type":"transport"}]}}` + "\n")
	}
	if _, err := conn.Write([]byte(lines.String())); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := []model.ConnectionState{model.StateNew, model.StateConnecting, model.StateConnected}
	for i, state := range want {
		if got := waitSample(t, srv).State; got != state {
			t.Fatalf("sample %d state = %q, want %q", i, got, state)
		}
	}
}

func TestServerDropsMalformedLines(t *testing.T) {
	srv := startTestServer(t)
	conn := dialProducer(t, srv)

	payload := "garbage that is not json\n" +
		`{"event":"peer-connection-stats","data":{"id":"conn-2","values":[{"type":"transport"}]}}` + "\n"
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The malformed line is dropped, the following good line survives.
	if sample := waitSample(t, srv); sample.ID != "conn-2" {
		t.Errorf("sample id = %q, want conn-2", sample.ID)
	}
}

func TestServerBroadcastsConfig(t *testing.T) {
	srv := startTestServer(t)
	conn := dialProducer(t, srv)

	// Let the handler register this client before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.Broadcast(model.ConfigPush{
		URL:            "https://push.example.com",
		Enabled:        true,
		UpdateInterval: 2 * time.Second,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no config line received: %v", scanner.Err())
	}

	var env struct {
		Event string           `json:"event"`
		Data  model.ConfigPush `json:"data"`
	}
	if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
		t.Fatalf("decoding config push: %v", err)
	}
	if env.Event != EventConfig || env.Data.URL != "https://push.example.com" {
		t.Errorf("config push = %+v", env)
	}
}

func TestServerSendsConfigSnapshotOnConnect(t *testing.T) {
	srv := startTestServer(t)
	srv.Broadcast(model.ConfigPush{URL: "https://push.example.com", Enabled: true})

	conn := dialProducer(t, srv)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("late-joining producer got no config snapshot: %v", scanner.Err())
	}
	if !strings.Contains(scanner.Text(), `"event":"config"`) {
		t.Errorf("unexpected first line: %s", scanner.Text())
	}
}

func TestServerSurvivesSeveredProducer(t *testing.T) {
	srv := startTestServer(t)
	conn := dialProducer(t, srv)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("severed client never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Broadcasting to nobody must not panic or block.
	srv.Broadcast(model.ConfigPush{Enabled: true})
}

func TestStdinSource(t *testing.T) {
	input := `{"event":"peer-connection-stats","data":{"id":"conn-9","values":[{"type":"transport","bytesSent":1}]}}` + "\n" +
		"junk\n" +
		`{"event":"config","data":{}}` + "\n"

	src := NewStdinSource(context.Background(), strings.NewReader(input))
	defer src.Stop()

	var got []model.Sample
	for sample := range src.Samples() {
		got = append(got, sample)
	}
	if len(got) != 1 || got[0].ID != "conn-9" {
		t.Errorf("samples = %+v, want one conn-9 sample", got)
	}
}
