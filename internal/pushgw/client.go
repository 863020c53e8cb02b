// Package pushgw delivers exposition blocks to a Pushgateway-style metrics
// collector, guarded by a per-destination circuit breaker.
package pushgw

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds one POST/DELETE round trip.
const DefaultRequestTimeout = 15 * time.Second

// StatusError is a completed HTTP call with a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pushgw: collector returned %d: %s", e.Code, e.Body)
}

// Config holds the delivery destination and its options.
type Config struct {
	// BaseURL is the collector root, e.g. "https://push.example.com".
	BaseURL string
	// Job groups every series pushed by this exporter instance.
	Job string
	// Username/Password are sent as HTTP basic auth when Username is set.
	Username string
	Password string
	// Gzip compresses POST bodies and marks them with Content-Encoding.
	Gzip bool
}

// Configured reports whether a destination is set.
func (c Config) Configured() bool { return c.BaseURL != "" }

// Client pushes and deletes per-connection metric series. It is safe for
// concurrent use; the breaker is shared across all connections.
type Client struct {
	mu      sync.Mutex
	cfg     Config
	httpc   *http.Client
	breaker *Breaker
}

// NewClient creates a delivery client with a fresh closed breaker.
func NewClient(cfg Config) *Client {
	if cfg.Job == "" {
		cfg.Job = "peerwatch"
	}
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: DefaultRequestTimeout},
		breaker: NewBreaker(0, 0),
	}
}

// Reconfigure swaps the destination settings. The breaker is reset so a new
// destination starts with a clean slate.
func (c *Client) Reconfigure(cfg Config) {
	if cfg.Job == "" {
		cfg.Job = "peerwatch"
	}
	c.mu.Lock()
	changed := cfg.BaseURL != c.cfg.BaseURL
	c.cfg = cfg
	c.mu.Unlock()

	if changed {
		c.breaker.RecordSuccess()
	}
}

// Breaker exposes the shared breaker, for the admin API.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Push upserts the metrics block for one connection id. A 2xx response is the
// only success; every other outcome is returned distinctly (ErrBreakerOpen,
// *StatusError, or a wrapped transport error) and is never retried here — the
// next sampling tick is the retry.
func (c *Client) Push(ctx context.Context, id, block string) error {
	return c.send(ctx, http.MethodPost, id, block)
}

// Delete removes the metrics series for one connection id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, id, "")
}

func (c *Client) send(ctx context.Context, method, id, block string) error {
	c.mu.Lock()
	cfg := c.cfg
	httpc := c.httpc
	c.mu.Unlock()

	if !cfg.Configured() {
		return fmt.Errorf("pushgw: no destination configured")
	}
	if !c.breaker.Allow() {
		return ErrBreakerOpen
	}

	req, err := c.buildRequest(ctx, cfg, method, id, block)
	if err != nil {
		// Request construction is a local error, not a destination failure.
		return err
	}

	resp, err := httpc.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("pushgw: %s %s: %w", method, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.breaker.RecordFailure()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	c.breaker.RecordSuccess()
	return nil
}

func (c *Client) buildRequest(ctx context.Context, cfg Config, method, id, block string) (*http.Request, error) {
	target := fmt.Sprintf("%s/metrics/job/%s/peerConnection/%s",
		strings.TrimSuffix(cfg.BaseURL, "/"),
		url.PathEscape(cfg.Job),
		url.PathEscape(id))

	var body io.Reader
	compressed := false
	if method == http.MethodPost {
		if cfg.Gzip {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write([]byte(block)); err != nil {
				return nil, fmt.Errorf("pushgw: compressing body: %w", err)
			}
			if err := zw.Close(); err != nil {
				return nil, fmt.Errorf("pushgw: compressing body: %w", err)
			}
			body = &buf
			compressed = true
		} else {
			body = strings.NewReader(block)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("pushgw: building request: %w", err)
	}

	if method == http.MethodPost {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		if compressed {
			req.Header.Set("Content-Encoding", "gzip")
		}
	}
	if cfg.Username != "" {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}
	return req, nil
}
