// Package httpapi wires the public edge API: cached opportunity and safety
// reads, the gated engine proxy, and health.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"arb-edge/internal/aggregate"
	"arb-edge/internal/cache"
	"arb-edge/internal/domain"
	"arb-edge/internal/observability"
	"arb-edge/internal/ratelimit"
	"arb-edge/internal/storage"
)

// maxBatchAddresses bounds one batch safety lookup.
const maxBatchAddresses = 50

// LiveSource supplies the engine's current opportunity snapshot.
type LiveSource interface {
	FetchLive(ctx context.Context, chainID int64) ([]*domain.Opportunity, error)
}

// SafetyResolver returns safety records for addresses, evaluating the ones
// not already stored.
type SafetyResolver interface {
	Results(ctx context.Context, addresses []string, chainID int64) (map[string]*domain.AssetSafety, error)
}

// RouteRules carries the per-route rate limit policy. Nil rules disable
// limiting for that route.
type RouteRules struct {
	Opportunities *ratelimit.Rule
	Safety        *ratelimit.Rule
}

// CachePolicy carries the per-route freshness windows.
type CachePolicy struct {
	OpportunitiesTTL time.Duration
	OpportunitiesSWR time.Duration
	SafetyTTL        time.Duration
	SafetySWR        time.Duration
}

// DefaultCachePolicy returns the production freshness windows.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		OpportunitiesTTL: 5 * time.Second,
		OpportunitiesSWR: 30 * time.Second,
		SafetyTTL:        5 * time.Minute,
		SafetySWR:        30 * time.Minute,
	}
}

// Server holds the handler dependencies.
type Server struct {
	opportunities storage.OpportunityStore
	live          LiveSource
	aggregator    *aggregate.Aggregator
	archiver      *aggregate.Archiver
	safety        SafetyResolver
	gateway       *cache.Gateway
	limiter       *ratelimit.Limiter
	rules         RouteRules
	cachePolicy   CachePolicy
	proxy         http.Handler
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// Opportunities is the persisted opportunity store.
	Opportunities storage.OpportunityStore
	// Live supplies engine snapshots; nil degrades to persisted-only.
	Live LiveSource
	// Aggregator runs the merge/filter/score pipeline. Required.
	Aggregator *aggregate.Aggregator
	// Archiver records served pages; nil disables archival.
	Archiver *aggregate.Archiver
	// Safety resolves safety records. Required.
	Safety SafetyResolver
	// Gateway provides SWR caching; nil disables caching.
	Gateway *cache.Gateway
	// Limiter and Rules gate the API routes; nil disables limiting.
	Limiter *ratelimit.Limiter
	Rules   RouteRules
	// CachePolicy defaults to DefaultCachePolicy() when zero.
	CachePolicy CachePolicy
	// Proxy is the engine pass-through mounted at /engine/; nil disables it.
	Proxy http.Handler
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// Metrics is optional.
	Metrics *observability.Metrics
}

// NewServer creates a Server.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CachePolicy == (CachePolicy{}) {
		opts.CachePolicy = DefaultCachePolicy()
	}
	return &Server{
		opportunities: opts.Opportunities,
		live:          opts.Live,
		aggregator:    opts.Aggregator,
		archiver:      opts.Archiver,
		safety:        opts.Safety,
		gateway:       opts.Gateway,
		limiter:       opts.Limiter,
		rules:         opts.Rules,
		cachePolicy:   opts.CachePolicy,
		proxy:         opts.Proxy,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
}

// Routes builds the handler tree. Rate limiting runs outermost so denied
// requests never touch the cache or handlers; caching sits between the
// limiter and the origin handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	opportunities := s.cached("opportunities", cache.RouteConfig{
		TTL:                  s.cachePolicy.OpportunitiesTTL,
		StaleWhileRevalidate: s.cachePolicy.OpportunitiesSWR,
	}, http.HandlerFunc(s.handleOpportunities))
	mux.Handle("GET /opportunities", s.route("opportunities", s.rules.Opportunities, opportunities))

	safetyCfg := cache.RouteConfig{
		TTL:                  s.cachePolicy.SafetyTTL,
		StaleWhileRevalidate: s.cachePolicy.SafetySWR,
	}
	mux.Handle("GET /safety/{address}", s.route("safety",
		s.rules.Safety, s.cached("safety", safetyCfg, http.HandlerFunc(s.handleSafetyAddress))))
	mux.Handle("GET /safety", s.route("safety",
		s.rules.Safety, s.cached("safety", safetyCfg, http.HandlerFunc(s.handleSafetyBatch))))

	if s.proxy != nil {
		mux.Handle("/engine/", instrument("engine_proxy", s.logger, s.metrics, s.proxy))
	}

	mux.Handle("GET /healthz", instrument("healthz", s.logger, s.metrics, http.HandlerFunc(s.handleHealthz)))

	return mux
}

func (s *Server) route(name string, rule *ratelimit.Rule, next http.Handler) http.Handler {
	return instrument(name, s.logger, s.metrics, rateLimited(s.limiter, rule, s.metrics, next))
}

func (s *Server) cached(route string, cfg cache.RouteConfig, next http.Handler) http.Handler {
	if s.gateway == nil {
		return next
	}
	return s.gateway.Middleware(route, cfg, next)
}
