package quip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Stats holds usage counters. Operations is keyed by operation name.
type Stats struct {
	TotalCalls  uint64
	TotalErrors uint64
	RateLimited uint64
	Operations  map[Operation]uint64
}

// StatsProvider exposes usage counters for external collectors.
type StatsProvider interface {
	Stats() Stats
}

// Client talks to the document API with bearer authentication and backs off
// per path when the server rate limits it.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cfg        *config

	mu            sync.Mutex
	logger        Logger
	limiter       *rate.Limiter
	originalRate  rate.Limit
	adaptiveTimer *time.Timer
	closed        bool
	rateLimits    map[string]int
	ops           map[Operation]uint64

	totalCalls  atomic.Uint64
	totalErrors atomic.Uint64
	rateLimited atomic.Uint64
}

// Compile-time interface check.
var _ StatsProvider = (*Client)(nil)

// New creates a Client for the API rooted at baseURL, authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if err := validate(baseURL, token); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	logger := cfg.logger
	if logger == nil {
		logger = DefaultLogger()
	}

	var lim *rate.Limiter
	if cfg.rps > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.rps), cfg.burst)
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   hc,
		cfg:          cfg,
		logger:       logger,
		limiter:      lim,
		originalRate: rate.Limit(cfg.rps),
		rateLimits:   make(map[string]int),
		ops:          make(map[Operation]uint64),
	}, nil
}

func validate(baseURL, token string) error {
	if baseURL == "" {
		return fmt.Errorf("quip: base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("quip: invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("quip: base URL must use http or https scheme, got: %q", u.Scheme)
	}
	if token == "" {
		return fmt.Errorf("quip: access token is required")
	}
	return nil
}

// Close releases resources held by the client (adaptive timer).
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.adaptiveTimer != nil {
		c.adaptiveTimer.Stop()
		c.adaptiveTimer = nil
	}
}

// SetLogger replaces the logger. A nil logger discards everything.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = discardLogger{}
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Stats returns a snapshot of usage counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	ops := make(map[Operation]uint64, len(c.ops))
	for k, v := range c.ops {
		ops[k] = v
	}
	c.mu.Unlock()

	return Stats{
		TotalCalls:  c.totalCalls.Load(),
		TotalErrors: c.totalErrors.Load(),
		RateLimited: c.rateLimited.Load(),
		Operations:  ops,
	}
}

// RateLimitCount returns how many rate-limit responses path has received
// over the client's lifetime.
func (c *Client) RateLimitCount(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimits[path]
}

// CallJSON fetches path and decodes the JSON response into out.
func (c *Client) CallJSON(ctx context.Context, path string, out any) error {
	c.count(OpCallJSON)
	return c.fetchJSON(ctx, path, out)
}

// CallBinary fetches path and returns the raw response body.
func (c *Client) CallBinary(ctx context.Context, path string) (*Blob, error) {
	c.count(OpCallBinary)
	return c.fetchBlob(ctx, path)
}

// --- internal helpers ---

func (c *Client) count(op Operation) {
	c.totalCalls.Add(1)
	c.mu.Lock()
	c.ops[op]++
	c.mu.Unlock()
}

func (c *Client) fetchJSON(ctx context.Context, path string, out any) error {
	body, _, err := c.execute(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.totalErrors.Add(1)
		c.log().Error("couldn't decode response", "path", path, "error", err)
		return fmt.Errorf("quip: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) fetchBlob(ctx context.Context, path string) (*Blob, error) {
	body, header, err := c.execute(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Blob{ContentType: header.Get("Content-Type"), Data: body}, nil
}

// execute GETs path until the server answers with something other than 429
// or 503, or the path has been rate limited too often. The rate-limit count
// for path is shared by every call that uses it.
func (c *Client) execute(ctx context.Context, path string) ([]byte, http.Header, error) {
	reqID := uuid.NewString()

	for attempt := 0; attempt <= c.cfg.maxRateLimits; attempt++ {
		if err := c.waitRateLimit(ctx); err != nil {
			c.totalErrors.Add(1)
			return nil, nil, fmt.Errorf("quip: rate limit wait: %w", err)
		}

		resp, body, err := c.roundTrip(ctx, path, reqID)
		if err != nil {
			c.totalErrors.Add(1)
			c.log().Error("couldn't fetch", "path", path, "request_id", reqID, "error", err)
			return nil, nil, err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, resp.Header, nil

		case isRateLimited(resp.StatusCode):
			c.rateLimited.Add(1)
			prev := c.recordRateLimit(path)
			if c.cfg.onRateLimited != nil {
				c.cfg.onRateLimited(resp.Request, prev+1)
			}
			c.reduceRateLimit()

			if prev+1 > c.cfg.maxRateLimits {
				c.totalErrors.Add(1)
				c.log().Error("couldn't fetch, rate limit retries exhausted",
					"path", path, "request_id", reqID, "attempts", prev+1)
				return nil, nil, fmt.Errorf("%w: GET %s after %d attempts", ErrRateLimitExhausted, path, prev+1)
			}

			reset := parseRateLimitReset(resp.Header.Get(RateLimitResetHeader))
			wait := backoffDuration(c.cfg.baseDelay, c.cfg.growth, c.cfg.maxJitter, prev, reset, c.cfg.now())
			c.log().Debug("rate limited, backing off",
				"path", path, "request_id", reqID, "status", resp.StatusCode, "iteration", prev+1, "wait", wait)

			select {
			case <-ctx.Done():
				c.totalErrors.Add(1)
				return nil, nil, fmt.Errorf("quip: GET %s: %w", path, ctx.Err())
			case <-time.After(wait):
			}

		default:
			c.totalErrors.Add(1)
			c.log().Debug("couldn't fetch", "path", path, "request_id", reqID, "status", resp.StatusCode)
			return nil, nil, &StatusError{Status: resp.StatusCode, Path: path, Body: truncate(body, maxErrorBody)}
		}
	}

	c.totalErrors.Add(1)
	return nil, nil, fmt.Errorf("%w: GET %s", ErrRateLimitExhausted, path)
}

const maxErrorBody = 1024

// roundTrip sends one attempt and reads the whole body.
func (c *Client) roundTrip(ctx context.Context, path, reqID string) (*http.Response, []byte, error) {
	req, err := c.newRequest(ctx, path, reqID)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("quip: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if c.cfg.responseHook != nil {
		c.cfg.responseHook(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.maxResponseSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("quip: read %s: %w", path, err)
	}
	if int64(len(body)) > c.cfg.maxResponseSize {
		return nil, nil, fmt.Errorf("%w: GET %s exceeds %d bytes", ErrResponseTooLarge, path, c.cfg.maxResponseSize)
	}
	return resp, body, nil
}

func (c *Client) newRequest(ctx context.Context, path, reqID string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("quip: build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	if c.cfg.requestHook != nil {
		c.cfg.requestHook(req)
	}
	return req, nil
}

// recordRateLimit bumps the counter for path and returns its previous value.
func (c *Client) recordRateLimit(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.rateLimits[path]
	c.rateLimits[path] = prev + 1
	return prev
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	c.mu.Lock()
	lim := c.limiter
	c.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (c *Client) reduceRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limiter == nil || c.closed || c.cfg.adaptiveCooldown <= 0 {
		return
	}

	reduced := c.originalRate / 2
	if reduced < 0.01 {
		reduced = 0.01
	}
	c.limiter.SetLimit(reduced)

	if c.adaptiveTimer != nil {
		c.adaptiveTimer.Stop()
	}
	c.adaptiveTimer = time.AfterFunc(c.cfg.adaptiveCooldown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.closed && c.limiter != nil {
			c.limiter.SetLimit(c.originalRate)
		}
	})
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
