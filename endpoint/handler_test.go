package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eternovinculo/visitguard"
	"github.com/eternovinculo/visitguard/counter"
	"github.com/eternovinculo/visitguard/ratelimit"
)

type fakeCounter struct {
	mu     sync.Mutex
	totals map[string]int64 // "kind/slug"; missing => not found
	err    error
}

func newFakeCounter(keys ...string) *fakeCounter {
	c := &fakeCounter{totals: make(map[string]int64)}
	for _, k := range keys {
		c.totals[k] = 0
	}
	return c
}

func (c *fakeCounter) Increment(_ context.Context, kind visitguard.Kind, slug string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	k := string(kind) + "/" + slug
	n, ok := c.totals[k]
	if !ok {
		return 0, counter.ErrNotFound
	}
	c.totals[k] = n + 1
	return n + 1, nil
}

func (c *fakeCounter) Get(_ context.Context, kind visitguard.Kind, slug string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.totals[string(kind)+"/"+slug]
	if !ok {
		return 0, counter.ErrNotFound
	}
	return n, nil
}

type fixedLimiter struct {
	res      ratelimit.Result
	err      error
	released int
}

func (l *fixedLimiter) Allow(context.Context, string, visitguard.Kind, string) (ratelimit.Result, error) {
	return l.res, l.err
}

func (l *fixedLimiter) Release(context.Context, string, visitguard.Kind, string) error {
	l.released++
	return nil
}

func post(t *testing.T, h http.Handler, path string, hdr map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = "198.51.100.4:53211"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestVisitCounts(t *testing.T) {
	c := newFakeCounter("profile/abc123", "family/garcia", "couple/ana-y-luis")
	h, err := New(Options{Counter: c})
	require.NoError(t, err)

	for _, path := range []string{
		"/profiles/public/abc123/visit",
		"/family-profiles/public/garcia/visit",
		"/couple-profiles/public/ana-y-luis/visit",
	} {
		rec, body := post(t, h, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(1), body["visit_count"])
	}

	_, body := post(t, h, "/profiles/public/abc123/visit", nil)
	assert.Equal(t, float64(2), body["visit_count"])
}

func TestVisitDecodesSlug(t *testing.T) {
	c := newFakeCounter("profile/a/b", "profile/100%", "family/ana y luis")
	h, err := New(Options{Counter: c})
	require.NoError(t, err)

	for _, path := range []string{
		"/profiles/public/a%2Fb/visit",
		"/profiles/public/100%25/visit",
		"/family-profiles/public/ana%20y%20luis/visit",
	} {
		rec, body := post(t, h, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, float64(1), body["visit_count"], path)
	}
}

func TestVisitNotFound(t *testing.T) {
	lim := &fixedLimiter{res: ratelimit.Result{Allowed: true}}
	h, err := New(Options{Counter: newFakeCounter(), Limiter: lim})
	require.NoError(t, err)

	rec, body := post(t, h, "/profiles/public/nadie/visit", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, MsgNotFound, body["error"])
	assert.Equal(t, 1, lim.released)

	rec, _ = post(t, h, "/pets/public/firulais/visit", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVisitRateLimited(t *testing.T) {
	c := newFakeCounter("profile/abc123")
	lim := &fixedLimiter{res: ratelimit.Result{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	h, err := New(Options{Counter: c, Limiter: lim})
	require.NoError(t, err)

	rec, body := post(t, h, "/profiles/public/abc123/visit", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, MsgRateLimited, body["error"])

	n, _ := c.Get(context.Background(), visitguard.KindProfile, "abc123")
	assert.Zero(t, n, "rate-limited request must not count")
}

func TestVisitInternalErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	t.Run("counter", func(t *testing.T) {
		c := newFakeCounter("profile/abc123")
		c.err = errors.New("connection reset")
		lim := &fixedLimiter{res: ratelimit.Result{Allowed: true}}
		h, err := New(Options{Counter: c, Limiter: lim, Logger: zap.New(core)})
		require.NoError(t, err)

		rec, body := post(t, h, "/profiles/public/abc123/visit", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, visitguard.DefaultErrorMessage, body["error"])
		assert.Equal(t, 1, lim.released)
	})

	t.Run("limiter", func(t *testing.T) {
		lim := &fixedLimiter{err: errors.New("redis down")}
		h, err := New(Options{Counter: newFakeCounter("profile/abc123"), Limiter: lim, Logger: zap.New(core)})
		require.NoError(t, err)

		rec, _ := post(t, h, "/profiles/public/abc123/visit", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	assert.Equal(t, 2, logs.FilterMessageSnippet("failed").Len())
}

func TestClientIdentity(t *testing.T) {
	var got []string
	spy := limiterFunc(func(client string) { got = append(got, client) })

	trusting, err := New(Options{Counter: newFakeCounter("profile/a"), Limiter: spy, TrustForwardedFor: true})
	require.NoError(t, err)
	plain, err := New(Options{Counter: newFakeCounter("profile/a"), Limiter: spy})
	require.NoError(t, err)

	xff := map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}
	post(t, trusting, "/profiles/public/a/visit", xff)
	post(t, trusting, "/profiles/public/a/visit", nil)
	post(t, plain, "/profiles/public/a/visit", xff)

	assert.Equal(t, []string{"203.0.113.9", "198.51.100.4", "198.51.100.4"}, got)
}

type limiterFunc func(client string)

func (f limiterFunc) Allow(_ context.Context, client string, _ visitguard.Kind, _ string) (ratelimit.Result, error) {
	f(client)
	return ratelimit.Result{Allowed: true}, nil
}

func TestMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	h, err := New(Options{Counter: newFakeCounter("family/garcia"), Metrics: m, Gatherer: reg})
	require.NoError(t, err)

	post(t, h, "/family-profiles/public/garcia/visit", nil)
	post(t, h, "/family-profiles/public/nadie/visit", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.visits.WithLabelValues("family", OutcomeCounted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.visits.WithLabelValues("family", OutcomeNotFound)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "visitd_visit_requests_total")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, err := New(Options{Counter: newFakeCounter("profile/a")})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profiles/public/a/visit", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewRequiresCounter(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", retryAfter(0))
	assert.Equal(t, "1", retryAfter(200*time.Millisecond))
	assert.Equal(t, "3600", retryAfter(time.Hour))
}
