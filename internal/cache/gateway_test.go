package cache

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGateway(t *testing.T) (*Gateway, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	g := NewGateway(NewStore(0), GatewayOptions{Now: clock.Now})
	t.Cleanup(g.Close)
	return g, clock
}

// countingOrigin serves a body that changes with every invocation.
type countingOrigin struct {
	calls  atomic.Int64
	status atomic.Int64
}

func newCountingOrigin() *countingOrigin {
	o := &countingOrigin{}
	o.status.Store(http.StatusOK)
	return o
}

func (o *countingOrigin) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := o.calls.Add(1)
		w.WriteHeader(int(o.status.Load()))
		fmt.Fprintf(w, "body-%d", n)
	})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGateway_MissThenHit(t *testing.T) {
	g, clock := newTestGateway(t)
	origin := newCountingOrigin()
	h := g.Middleware("opportunities", RouteConfig{TTL: 5 * time.Second, StaleWhileRevalidate: 10 * time.Second}, origin.handler())

	rec := get(t, h, "/opportunities")
	require.Equal(t, StatusMiss, rec.Header().Get("X-Cache-Status"))
	require.Equal(t, "body-1", rec.Body.String())
	require.Equal(t, "public, max-age=5, stale-while-revalidate=10", rec.Header().Get("Cache-Control"))

	clock.Advance(3 * time.Second)
	rec = get(t, h, "/opportunities")
	require.Equal(t, StatusHit, rec.Header().Get("X-Cache-Status"))
	require.Equal(t, "body-1", rec.Body.String(), "hit must return stored body unchanged")
	require.Equal(t, "3", rec.Header().Get("Age"))
	require.EqualValues(t, 1, origin.calls.Load(), "hit must not touch the origin")
}

func TestGateway_StaleServesOldBodyAndRefreshesOnce(t *testing.T) {
	g, clock := newTestGateway(t)
	origin := newCountingOrigin()
	h := g.Middleware("opportunities", RouteConfig{TTL: 5 * time.Second, StaleWhileRevalidate: 10 * time.Second}, origin.handler())

	get(t, h, "/opportunities") // MISS, stores body-1

	clock.Advance(7 * time.Second)
	rec := get(t, h, "/opportunities")
	require.Equal(t, StatusStale, rec.Header().Get("X-Cache-Status"))
	require.Equal(t, "body-1", rec.Body.String(), "stale must serve the stored body immediately")

	// Exactly one detached refresh must run.
	require.Eventually(t, func() bool {
		return origin.calls.Load() == 2
	}, 2*time.Second, 10*time.Millisecond, "expected one background refresh")

	// Refresh overwrote the entry: next request within TTL is a fresh HIT.
	rec = get(t, h, "/opportunities")
	require.Equal(t, StatusHit, rec.Header().Get("X-Cache-Status"))
	require.Equal(t, "body-2", rec.Body.String())
	require.EqualValues(t, 2, origin.calls.Load())
}

func TestGateway_ExpiredEntryTreatedAsMiss(t *testing.T) {
	g, clock := newTestGateway(t)
	origin := newCountingOrigin()
	h := g.Middleware("opportunities", RouteConfig{TTL: 5 * time.Second, StaleWhileRevalidate: 10 * time.Second}, origin.handler())

	get(t, h, "/opportunities") // stored at t=0

	clock.Advance(20 * time.Second) // past ttl+swr
	rec := get(t, h, "/opportunities")
	require.Equal(t, StatusMiss, rec.Header().Get("X-Cache-Status"))
	require.Equal(t, "body-2", rec.Body.String(), "expired entry must be re-fetched synchronously")
}

func TestGateway_FreshnessBoundaries(t *testing.T) {
	// a<ttl => HIT; ttl<=a<ttl+swr => STALE; a>=ttl+swr => MISS
	require.Equal(t, StatusHit, classify(4*time.Second, 5*time.Second, 10*time.Second))
	require.Equal(t, StatusStale, classify(5*time.Second, 5*time.Second, 10*time.Second))
	require.Equal(t, StatusStale, classify(14*time.Second, 5*time.Second, 10*time.Second))
	require.Equal(t, StatusMiss, classify(15*time.Second, 5*time.Second, 10*time.Second))
}

func TestGateway_Non200NeverCached(t *testing.T) {
	g, _ := newTestGateway(t)
	origin := newCountingOrigin()
	origin.status.Store(http.StatusBadGateway)
	h := g.Middleware("opportunities", RouteConfig{TTL: 5 * time.Second, StaleWhileRevalidate: 10 * time.Second}, origin.handler())

	rec := get(t, h, "/opportunities")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = get(t, h, "/opportunities")
	require.Equal(t, StatusMiss, rec.Header().Get("X-Cache-Status"))
	require.EqualValues(t, 2, origin.calls.Load(), "non-200 responses must not be stored")
	require.Equal(t, 0, g.store.Len())
}

func TestGateway_NonGetBypassesCache(t *testing.T) {
	g, _ := newTestGateway(t)
	origin := newCountingOrigin()
	h := g.Middleware("opportunities", RouteConfig{TTL: time.Minute}, origin.handler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/opportunities", nil))
	require.Empty(t, rec.Header().Get("X-Cache-Status"))
	require.Equal(t, 0, g.store.Len())
}

func TestGateway_ConditionFnSkipsCaching(t *testing.T) {
	g, _ := newTestGateway(t)
	origin := newCountingOrigin()
	h := g.Middleware("opportunities", RouteConfig{
		TTL:         time.Minute,
		ConditionFn: func(r *http.Request) bool { return r.Header.Get("Authorization") == "" },
	}, origin.handler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/opportunities", nil)
	req.Header.Set("Authorization", "Bearer x")
	h.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("X-Cache-Status"))
	require.Equal(t, 0, g.store.Len())

	rec = get(t, h, "/opportunities")
	require.Equal(t, StatusMiss, rec.Header().Get("X-Cache-Status"))
	require.Equal(t, 1, g.store.Len())
}

func TestDefaultKey_QueryOrderInsensitive(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "/opportunities?chainId=1&minProfit=5", nil)
	b := httptest.NewRequest(http.MethodGet, "/opportunities?minProfit=5&chainId=1", nil)
	require.Equal(t, DefaultKey(a, nil), DefaultKey(b, nil))

	c := httptest.NewRequest(http.MethodGet, "/opportunities?chainId=2&minProfit=5", nil)
	require.NotEqual(t, DefaultKey(a, nil), DefaultKey(c, nil))
}

func TestDefaultKey_VaryHeaders(t *testing.T) {
	vary := []string{"Accept-Encoding", "X-Dashboard"}

	a := httptest.NewRequest(http.MethodGet, "/opportunities", nil)
	a.Header.Set("Accept-Encoding", "gzip")
	a.Header.Set("X-Dashboard", "ops")

	// Same values, different header set order and vary list order.
	b := httptest.NewRequest(http.MethodGet, "/opportunities", nil)
	b.Header.Set("X-Dashboard", "ops")
	b.Header.Set("Accept-Encoding", "gzip")
	require.Equal(t, DefaultKey(a, vary), DefaultKey(b, []string{"X-Dashboard", "Accept-Encoding"}))

	c := httptest.NewRequest(http.MethodGet, "/opportunities", nil)
	c.Header.Set("Accept-Encoding", "gzip")
	c.Header.Set("X-Dashboard", "finance")
	require.NotEqual(t, DefaultKey(a, vary), DefaultKey(c, vary))
}

func TestDefaultKey_MethodSeparatesEntries(t *testing.T) {
	g := httptest.NewRequest(http.MethodGet, "/opportunities", nil)
	h := httptest.NewRequest(http.MethodHead, "/opportunities", nil)
	require.NotEqual(t, DefaultKey(g, nil), DefaultKey(h, nil))
}

func TestStore_LRUBound(t *testing.T) {
	s := NewStore(3)
	now := time.Now()
	for i := 0; i < 5; i++ {
		s.Set(&Entry{Key: fmt.Sprintf("k%d", i), StoredAt: now})
	}
	require.Equal(t, 3, s.Len())

	_, ok := s.Get("k0")
	require.False(t, ok, "oldest entries must be evicted")
	_, ok = s.Get("k4")
	require.True(t, ok)
}
