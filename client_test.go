package quip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient builds a client that logs nowhere and retries without delay.
func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithLogger(nil),
		WithBaseDelay(0),
		WithJitter(0),
		WithTimeout(5 * time.Second),
	}
	c, err := New(baseURL, "secret-token", append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		token   string
		wantErr bool
	}{
		{"valid", "https://platform.example.com/1", "tok", false},
		{"trailing slash", "http://localhost:8080/", "tok", false},
		{"missing url", "", "tok", true},
		{"bad scheme", "ftp://example.com", "tok", true},
		{"missing token", "https://example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.baseURL, tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			c.Close()
		})
	}
}

func TestRequestHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/")

	var out map[string]bool
	require.NoError(t, c.CallJSON(context.Background(), "/anything", &out))
	assert.True(t, out["ok"])
}

func TestRetryOn429(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("rate limited"))
			return
		}
		w.Write([]byte(`{"thread":{"id":"t1"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	thread, err := c.GetThread(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"thread": map[string]any{"id": "t1"}}, thread)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 2, c.RateLimitCount("/threads/t1"))
}

func TestRetryOn503(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	msgs, err := c.GetThreadMessages(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []any{}, msgs)
	assert.Equal(t, 1, c.RateLimitCount("/messages/t1"))
}

func TestRateLimitRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	folder, err := c.GetFolder(context.Background(), "f1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitExhausted))
	assert.Nil(t, folder)
	assert.Equal(t, int32(DefaultMaxRateLimitRetries+1), attempts.Load())
	assert.Equal(t, DefaultMaxRateLimitRetries+1, c.RateLimitCount("/folders/f1"))

	// The counter never resets, so the next call gives up after one request.
	_, err = c.GetFolder(context.Background(), "f1")
	assert.True(t, errors.Is(err, ErrRateLimitExhausted))
	assert.Equal(t, int32(DefaultMaxRateLimitRetries+2), attempts.Load())
}

func TestRateLimitCountIsPerPath(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.RequestURI()]++
		n := seen[r.URL.RequestURI()]
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.GetThreads(ctx, "a", "b")
	require.NoError(t, err)
	_, err = c.GetThread(ctx, "a")
	require.NoError(t, err)
	_, err = c.GetThread(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, 1, c.RateLimitCount("/threads/?ids=a,b"))
	assert.Equal(t, 1, c.RateLimitCount("/threads/a"))
	assert.Equal(t, 0, c.RateLimitCount("/threads/b"))
}

func TestNonRetryableStatus(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such thread"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	thread, err := c.GetThread(context.Background(), "missing")
	require.Error(t, err)
	assert.Nil(t, thread)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "/threads/missing", se.Path)
	assert.Equal(t, "no such thread", string(se.Body))

	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, 0, c.RateLimitCount("/threads/missing"))
}

func TestTransportFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)

	blob, err := c.GetPDF(context.Background(), "t1")
	require.Error(t, err)
	assert.Nil(t, blob)
	assert.Equal(t, 0, c.RateLimitCount("/threads/t1/export/pdf"))
	assert.Equal(t, uint64(1), c.Stats().TotalErrors)
}

func TestInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	user, err := c.GetUser(context.Background(), "u1")
	require.Error(t, err)
	assert.Nil(t, user)
}

func TestRateLimitResetHeader(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			// Reset lies 50ms after the fake clock.
			w.Header().Set("X-Ratelimit-Reset", fmt.Sprintf("%.3f", float64(now.UnixMilli()+50)/1000))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// A 10s base delay would time the test out if the header were ignored.
	c := newTestClient(t, srv.URL, WithBaseDelay(10*time.Second), WithClock(func() time.Time { return now }))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	_, err := c.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRequestIDStableAcrossRetries(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("X-Request-Id"))
		mu.Unlock()
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.GetThread(ctx, "t1")
	require.NoError(t, err)
	_, err = c.GetThread(ctx, "t1")
	require.NoError(t, err)

	require.Len(t, ids, 4)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
	assert.NotEqual(t, ids[0], ids[3])
}

func TestContextCancellationDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithBaseDelay(10*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.GetThread(ctx, "t1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMaxResponseSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithMaxResponseSize(4))

	_, err := c.GetDOCX(context.Background(), "t1")
	assert.True(t, errors.Is(err, ErrResponseTooLarge))
}

func TestStatsCountEveryCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/threads/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/threads/limited":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithMaxRateLimitRetries(2))
	ctx := context.Background()

	_, _ = c.GetThread(ctx, "ok")
	_, _ = c.GetThread(ctx, "missing")
	_, _ = c.GetThread(ctx, "limited")
	_, _ = c.GetFolder(ctx, "f1")
	_, _ = c.CheckUser(ctx)

	s := c.Stats()
	assert.Equal(t, uint64(5), s.TotalCalls)
	assert.Equal(t, uint64(2), s.TotalErrors)
	assert.Equal(t, uint64(3), s.RateLimited)
	assert.Equal(t, map[Operation]uint64{
		OpGetThread:      3,
		OpGetFolder:      1,
		OpGetCurrentUser: 1,
	}, s.Operations)
}

func TestClientSideRateLimiting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// 10 rps, burst 1, so 3 requests should take ~200ms.
	c := newTestClient(t, srv.URL, WithRateLimit(10, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.GetThread(context.Background(), strconv.Itoa(i))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestAdaptiveRateReduction(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL,
		WithRateLimit(100, 10),
		WithAdaptive(500*time.Millisecond),
	)

	_, err := c.GetThread(context.Background(), "t1")
	require.NoError(t, err)

	c.mu.Lock()
	reduced := c.limiter.Limit()
	c.mu.Unlock()
	assert.Less(t, float64(reduced), 100.0)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.limiter.Limit() == 100
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHooksAndCallbacks(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Hook") != "applied" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var responses, rateLimited atomic.Int32
	var lastCount atomic.Int32
	c := newTestClient(t, srv.URL,
		WithRequestHook(func(req *http.Request) { req.Header.Set("X-Hook", "applied") }),
		WithResponseHook(func(resp *http.Response) { responses.Add(1) }),
		WithOnRateLimited(func(req *http.Request, count int) {
			rateLimited.Add(1)
			lastCount.Store(int32(count))
		}),
	)

	_, err := c.GetThread(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), responses.Load())
	assert.Equal(t, int32(1), rateLimited.Load())
	assert.Equal(t, int32(1), lastCount.Load())
}

func TestConcurrentSafety(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1)%4 == 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetThread(context.Background(), "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s := c.Stats()
	assert.Equal(t, uint64(20), s.TotalCalls)
	assert.Equal(t, int(s.RateLimited), c.RateLimitCount("/threads/shared"))
}
