package quip

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseDelay is the wait before retrying a path that has never
	// been rate limited.
	DefaultBaseDelay = 1000 * time.Millisecond

	// DefaultBackoffGrowth is the share of the base delay added per
	// rate-limit response already recorded for a path.
	DefaultBackoffGrowth = 0.1

	// DefaultMaxJitter bounds the random delay added to every backoff.
	DefaultMaxJitter = 100 * time.Millisecond

	// DefaultMaxRateLimitRetries is the number of rate-limit responses a
	// path may collect before calls to it give up.
	DefaultMaxRateLimitRetries = 100

	// RateLimitResetHeader carries the Unix time (seconds) at which the
	// server lifts the current limit.
	RateLimitResetHeader = "X-Ratelimit-Reset"
)

// isRateLimited reports whether status asks the client to back off.
func isRateLimited(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// backoffDuration computes the wait before the next attempt on a path that
// has already been rate limited count times. A reset time in the future
// replaces the computed delay.
func backoffDuration(base time.Duration, growth float64, jitter time.Duration, count int, reset, now time.Time) time.Duration {
	if !reset.IsZero() && reset.After(now) {
		return reset.Sub(now)
	}

	d := base + time.Duration(float64(base)*growth*float64(count))
	if jitter > 0 {
		d += time.Duration(rand.Int63n(int64(jitter))) //nolint:gosec
	}
	return d
}

// parseRateLimitReset parses an x-ratelimit-reset value in Unix seconds.
// Returns the zero time if the value is missing or unparseable.
func parseRateLimitReset(val string) time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return time.Time{}
	}

	secs, err := strconv.ParseFloat(val, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(secs * 1000))
}
