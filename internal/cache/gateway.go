// Package cache implements an HTTP-semantics response cache with TTL and
// stale-while-revalidate in front of GET/HEAD handlers.
//
// Entries move Absent -> Fresh -> Stale -> logically Absent purely by
// elapsed time versus the route's TTL and SWR windows; only an overwrite
// resets an entry to Fresh. Cache state is process-local; instances of a
// horizontally scaled edge do not share freshness.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"arb-edge/internal/observability"
)

// Cache status values exposed via X-Cache-Status.
const (
	StatusHit   = "HIT"
	StatusStale = "STALE"
	StatusMiss  = "MISS"
)

// RouteConfig controls caching for one wrapped route.
type RouteConfig struct {
	// TTL is the freshness window.
	TTL time.Duration
	// StaleWhileRevalidate is the window after TTL during which a stale
	// entry is served immediately while one background refresh runs.
	StaleWhileRevalidate time.Duration
	// VaryHeaders lists request headers whose values join the cache key.
	VaryHeaders []string
	// KeyFn overrides the default key derivation.
	KeyFn func(r *http.Request) string
	// ConditionFn skips caching for this request when it returns false.
	ConditionFn func(r *http.Request) bool
}

// refreshTask is one scheduled background refresh.
type refreshTask struct {
	key  string
	cfg  RouteConfig
	req  *http.Request
	next http.Handler
}

// Gateway wraps handlers with SWR caching. Refreshes run on a dedicated
// worker pool fed by a bounded queue, so a STALE response never blocks on
// its own revalidation and refresh failures surface in logs and metrics.
type Gateway struct {
	store   *Store
	queue   chan refreshTask
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// Workers is the refresh worker count; 0 means 2.
	Workers int
	// QueueSize bounds pending refreshes; 0 means 128.
	QueueSize int
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// Metrics is optional.
	Metrics *observability.Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewGateway creates a Gateway and starts its refresh workers.
func NewGateway(store *Store, opts GatewayOptions) *Gateway {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &Gateway{
		store:    store,
		queue:    make(chan refreshTask, opts.QueueSize),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		inflight: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	if g.metrics != nil {
		store.onEvict = g.metrics.CacheEvictions.Inc
	}

	for i := 0; i < opts.Workers; i++ {
		g.wg.Add(1)
		go g.worker()
	}
	return g
}

// Close stops the refresh workers. Queued refreshes are abandoned.
func (g *Gateway) Close() {
	close(g.done)
	g.wg.Wait()
}

// Middleware wraps next with SWR caching per cfg. Only GET and HEAD are
// cache-gated; other methods pass through untouched.
func (g *Gateway) Middleware(route string, cfg RouteConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if cfg.ConditionFn != nil && !cfg.ConditionFn(r) {
			g.countRequest(route, "bypass")
			next.ServeHTTP(w, r)
			return
		}

		key := g.keyFor(cfg, r)
		if entry, ok := g.store.Get(key); ok {
			age := g.now().Sub(entry.StoredAt)
			switch classify(age, cfg.TTL, cfg.StaleWhileRevalidate) {
			case StatusHit:
				g.countRequest(route, "hit")
				writeEntry(w, r, entry, StatusHit, age)
				return
			case StatusStale:
				g.countRequest(route, "stale")
				writeEntry(w, r, entry, StatusStale, age)
				g.scheduleRefresh(key, cfg, r, next)
				return
			}
			// Aged past ttl+swr: logically absent, fall through to MISS.
		}

		g.countRequest(route, "miss")
		g.serveMiss(w, r, key, cfg, next)
	})
}

// serveMiss invokes the origin synchronously, returns its response, and
// stores it only on HTTP 200.
func (g *Gateway) serveMiss(w http.ResponseWriter, r *http.Request, key string, cfg RouteConfig, next http.Handler) {
	rec := newRecorder()
	next.ServeHTTP(rec, r)

	if rec.status == http.StatusOK {
		stampCacheHeaders(rec.header, cfg)
		g.storeEntry(key, rec)
	}

	copyHeader(w.Header(), rec.header)
	w.Header().Set("X-Cache-Status", StatusMiss)
	w.WriteHeader(rec.status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(rec.body.Bytes())
	}
}

// scheduleRefresh enqueues exactly one detached refresh for key. The
// request is cloned off the caller's cancellation so the refresh survives
// the triggering response.
func (g *Gateway) scheduleRefresh(key string, cfg RouteConfig, r *http.Request, next http.Handler) {
	g.mu.Lock()
	if _, busy := g.inflight[key]; busy {
		g.mu.Unlock()
		return
	}
	g.inflight[key] = struct{}{}
	g.mu.Unlock()

	task := refreshTask{
		key:  key,
		cfg:  cfg,
		req:  r.Clone(context.WithoutCancel(r.Context())),
		next: next,
	}
	select {
	case g.queue <- task:
	default:
		g.clearInflight(key)
		g.countRefresh("dropped")
		g.logger.Warn("refresh queue full, dropping refresh", zap.String("path", r.URL.Path))
	}
}

func (g *Gateway) worker() {
	defer g.wg.Done()
	for {
		select {
		case <-g.done:
			return
		case task := <-g.queue:
			g.refresh(task)
		}
	}
}

// refresh re-invokes the origin and overwrites the entry on 200. Failures
// are logged; the stale entry remains servable until it ages past ttl+swr.
func (g *Gateway) refresh(task refreshTask) {
	defer g.clearInflight(task.key)

	rec := newRecorder()
	task.next.ServeHTTP(rec, task.req)

	if rec.status != http.StatusOK {
		g.countRefresh("failure")
		g.logger.Warn("background refresh failed",
			zap.String("path", task.req.URL.Path),
			zap.Int("status", rec.status))
		return
	}

	stampCacheHeaders(rec.header, task.cfg)
	g.storeEntry(task.key, rec)
	g.countRefresh("success")
}

func (g *Gateway) storeEntry(key string, rec *recorder) {
	g.store.Set(&Entry{
		Key:      key,
		Status:   rec.status,
		Header:   rec.header.Clone(),
		Body:     bytes.Clone(rec.body.Bytes()),
		StoredAt: g.now(),
	})
	if g.metrics != nil {
		g.metrics.CacheEntries.Set(float64(g.store.Len()))
	}
}

func (g *Gateway) keyFor(cfg RouteConfig, r *http.Request) string {
	if cfg.KeyFn != nil {
		return cfg.KeyFn(r)
	}
	return DefaultKey(r, cfg.VaryHeaders)
}

func (g *Gateway) clearInflight(key string) {
	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
}

func (g *Gateway) countRequest(route, status string) {
	if g.metrics != nil {
		g.metrics.CacheRequests.WithLabelValues(route, status).Inc()
	}
}

func (g *Gateway) countRefresh(outcome string) {
	if g.metrics != nil {
		g.metrics.CacheRefreshes.WithLabelValues(outcome).Inc()
	}
}

// classify maps an entry age onto the freshness state machine.
func classify(age, ttl, swr time.Duration) string {
	if age < ttl {
		return StatusHit
	}
	if age < ttl+swr {
		return StatusStale
	}
	return StatusMiss
}

// writeEntry serves a stored response unchanged beyond header annotation.
func writeEntry(w http.ResponseWriter, r *http.Request, e *Entry, status string, age time.Duration) {
	copyHeader(w.Header(), e.Header)
	w.Header().Set("X-Cache-Status", status)
	w.Header().Set("Age", strconv.Itoa(int(age.Seconds())))
	w.WriteHeader(e.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(e.Body)
	}
}

// stampCacheHeaders sets the Cache-Control and Vary headers that describe
// the route's caching policy on a response about to be stored.
func stampCacheHeaders(h http.Header, cfg RouteConfig) {
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
		int(cfg.TTL.Seconds()), int(cfg.StaleWhileRevalidate.Seconds())))
	if len(cfg.VaryHeaders) > 0 {
		h.Set("Vary", strings.Join(cfg.VaryHeaders, ", "))
	}
}

func copyHeader(dst, src http.Header) {
	for k, vals := range src {
		dst[k] = append([]string(nil), vals...)
	}
}

// recorder captures the origin handler's response for storage and replay.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) Write(p []byte) (int, error) { return r.body.Write(p) }

func (r *recorder) WriteHeader(status int) { r.status = status }
