package quip

import (
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*config)

type config struct {
	rps              float64
	burst            int
	adaptiveCooldown time.Duration
	maxResponseSize  int64
	timeout          time.Duration
	httpClient       *http.Client
	logger           Logger

	baseDelay     time.Duration
	growth        float64
	maxJitter     time.Duration
	maxRateLimits int

	onRateLimited func(req *http.Request, count int)

	requestHook  func(req *http.Request)
	responseHook func(resp *http.Response)

	now func() time.Time
}

func defaultConfig() *config {
	return &config{
		rps:              0, // no client-side throttling by default
		burst:            1,
		adaptiveCooldown: 0,
		maxResponseSize:  64 * 1024 * 1024, // 64 MB, exports can be large
		timeout:          30 * time.Second,
		baseDelay:        DefaultBaseDelay,
		growth:           DefaultBackoffGrowth,
		maxJitter:        DefaultMaxJitter,
		maxRateLimits:    DefaultMaxRateLimitRetries,
		now:              time.Now,
	}
}

// WithRateLimit installs a client-side token bucket in requests per second
// and burst size. Every attempt, retries included, waits for a token.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rps = rps
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithAdaptive halves the token bucket rate whenever the server answers 429
// or 503 and restores it after cooldown. It has no effect without WithRateLimit.
func WithAdaptive(cooldown time.Duration) Option {
	return func(c *config) { c.adaptiveCooldown = cooldown }
}

// WithTimeout sets the per-attempt HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxResponseSize sets the maximum response body size in bytes.
// Larger bodies fail with ErrResponseTooLarge.
func WithMaxResponseSize(n int64) Option {
	return func(c *config) { c.maxResponseSize = n }
}

// WithHTTPClient sets a custom underlying *http.Client.
// The timeout option is ignored when a custom client is provided.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithLogger sets the logger used for debug and error reporting.
// A nil logger discards everything.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l == nil {
			l = discardLogger{}
		}
		c.logger = l
	}
}

// WithBaseDelay sets the wait before the first retry of a rate-limited path.
func WithBaseDelay(d time.Duration) Option {
	return func(c *config) { c.baseDelay = d }
}

// WithBackoffGrowth sets the fraction of the base delay added for every
// rate-limit response previously seen on the same path.
func WithBackoffGrowth(f float64) Option {
	return func(c *config) { c.growth = f }
}

// WithJitter sets the upper bound (exclusive) of the random delay added to
// each backoff. Zero disables jitter.
func WithJitter(d time.Duration) Option {
	return func(c *config) { c.maxJitter = d }
}

// WithMaxRateLimitRetries sets how many rate-limit responses a single path
// may collect before calls to it give up.
func WithMaxRateLimitRetries(n int) Option {
	return func(c *config) { c.maxRateLimits = n }
}

// WithOnRateLimited sets a callback invoked on every 429 or 503 response with
// the path's updated rate-limit count.
func WithOnRateLimited(fn func(req *http.Request, count int)) Option {
	return func(c *config) { c.onRateLimited = fn }
}

// WithRequestHook sets a hook called before each attempt is sent.
func WithRequestHook(fn func(req *http.Request)) Option {
	return func(c *config) { c.requestHook = fn }
}

// WithResponseHook sets a hook called after each response is received.
func WithResponseHook(fn func(resp *http.Response)) Option {
	return func(c *config) { c.responseHook = fn }
}

// WithClock overrides the time source used to interpret x-ratelimit-reset.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}
