package pushgw

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type capturedRequest struct {
	method   string
	path     string
	body     string
	encoding string
	auth     string
}

func newTestCollector(t *testing.T, status int) (*httptest.Server, *capturedRequest, *atomic.Int64) {
	t.Helper()
	var last capturedRequest
	var hits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				t.Errorf("bad gzip body: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer zr.Close()
			reader = zr
		}
		body, _ := io.ReadAll(reader)
		last = capturedRequest{
			method:   r.Method,
			path:     r.URL.Path,
			body:     string(body),
			encoding: r.Header.Get("Content-Encoding"),
			auth:     r.Header.Get("Authorization"),
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &last, &hits
}

func TestPushBuildsJobAndIDPath(t *testing.T) {
	srv, last, _ := newTestCollector(t, http.StatusOK)
	c := NewClient(Config{BaseURL: srv.URL, Job: "webrtc"})

	if err := c.Push(context.Background(), "conn-42", "transport_bytesSent{pageUrl=\"x\"} 1\n"); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if last.method != http.MethodPost {
		t.Errorf("method = %s, want POST", last.method)
	}
	if last.path != "/metrics/job/webrtc/peerConnection/conn-42" {
		t.Errorf("path = %s", last.path)
	}
	if last.body == "" {
		t.Error("body not forwarded")
	}
}

func TestDeleteSendsEmptyBody(t *testing.T) {
	srv, last, _ := newTestCollector(t, http.StatusAccepted)
	c := NewClient(Config{BaseURL: srv.URL, Job: "webrtc"})

	if err := c.Delete(context.Background(), "conn-42"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if last.method != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", last.method)
	}
	if last.body != "" {
		t.Errorf("DELETE body = %q, want empty", last.body)
	}
}

func TestPushGzipRoundTrip(t *testing.T) {
	srv, last, _ := newTestCollector(t, http.StatusOK)
	c := NewClient(Config{BaseURL: srv.URL, Job: "webrtc", Gzip: true})

	block := "# TYPE transport gauge\ntransport_bytesSent{pageUrl=\"x\"} 123\n"
	if err := c.Push(context.Background(), "conn-1", block); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if last.encoding != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", last.encoding)
	}
	if last.body != block {
		t.Errorf("decompressed body = %q, want %q", last.body, block)
	}
}

func TestPushBasicAuth(t *testing.T) {
	srv, last, _ := newTestCollector(t, http.StatusOK)
	c := NewClient(Config{BaseURL: srv.URL, Job: "webrtc", Username: "scout", Password: "s3cret"})

	if err := c.Push(context.Background(), "conn-1", "x 1\n"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("scout", "s3cret")
	if last.auth != req.Header.Get("Authorization") {
		t.Errorf("Authorization = %q", last.auth)
	}
}

func TestNon2xxIsStatusError(t *testing.T) {
	srv, _, _ := newTestCollector(t, http.StatusBadGateway)
	c := NewClient(Config{BaseURL: srv.URL})

	err := c.Push(context.Background(), "conn-1", "x 1\n")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusBadGateway {
		t.Errorf("Code = %d, want 502", statusErr.Code)
	}
}

func TestBreakerRejectsWithoutNetworkAttempt(t *testing.T) {
	srv, _, hits := newTestCollector(t, http.StatusInternalServerError)
	c := NewClient(Config{BaseURL: srv.URL})

	for i := 0; i < 3; i++ {
		if err := c.Push(context.Background(), "conn-1", "x 1\n"); err == nil {
			t.Fatalf("call %d unexpectedly succeeded", i)
		}
	}
	before := hits.Load()

	err := c.Push(context.Background(), "conn-1", "x 1\n")
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if hits.Load() != before {
		t.Error("rejected call still reached the collector")
	}
}

func TestBreakerSharedAcrossConnections(t *testing.T) {
	srv, _, _ := newTestCollector(t, http.StatusInternalServerError)
	c := NewClient(Config{BaseURL: srv.URL})

	// Failures from different connection ids trip the same breaker.
	for _, id := range []string{"a", "b", "c"} {
		if err := c.Push(context.Background(), id, "x 1\n"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if !errors.Is(c.Push(context.Background(), "d", "x 1\n"), ErrBreakerOpen) {
		t.Error("breaker not shared across connection ids")
	}
}

func TestUnconfiguredDestination(t *testing.T) {
	c := NewClient(Config{})
	if err := c.Push(context.Background(), "conn-1", "x 1\n"); err == nil {
		t.Error("expected error for missing destination")
	}
}

func TestReconfigureSwapsDestination(t *testing.T) {
	srvA, _, hitsA := newTestCollector(t, http.StatusOK)
	srvB, _, hitsB := newTestCollector(t, http.StatusOK)

	c := NewClient(Config{BaseURL: srvA.URL})
	if err := c.Push(context.Background(), "conn-1", "x 1\n"); err != nil {
		t.Fatalf("Push: %v", err)
	}

	c.Reconfigure(Config{BaseURL: srvB.URL})
	if err := c.Push(context.Background(), "conn-1", "x 1\n"); err != nil {
		t.Fatalf("Push after reconfigure: %v", err)
	}

	if hitsA.Load() != 1 || hitsB.Load() != 1 {
		t.Errorf("hits = %d/%d, want 1/1", hitsA.Load(), hitsB.Load())
	}
}
