// Package proxy forwards whitelisted read-only requests to the engine API,
// enforcing rate limits and a path-prefix allowlist in front of it.
package proxy

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"arb-edge/internal/envelope"
	"arb-edge/internal/observability"
	"arb-edge/internal/ratelimit"
)

// DefaultTimeout bounds a single upstream round trip.
const DefaultTimeout = 15 * time.Second

// Proxy is an allowlist-gated pass-through to the engine HTTP API.
// Enforcement order is fixed: rate limit, policy presence, path policy,
// then the upstream call.
type Proxy struct {
	upstream    *url.URL
	allowedPath []string
	limiter     *ratelimit.Limiter
	rule        *ratelimit.Rule
	client      *http.Client
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// Options configures a Proxy.
type Options struct {
	// AllowedPaths is the path-prefix allowlist. Empty means the proxy is
	// unconfigured and rejects everything with 503.
	AllowedPaths []string
	// Limiter and Rule gate requests before any forwarding. A nil rule
	// disables limiting.
	Limiter *ratelimit.Limiter
	Rule    *ratelimit.Rule
	// Client defaults to one with DefaultTimeout.
	Client *http.Client
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// Metrics is optional.
	Metrics *observability.Metrics
}

// New creates a Proxy forwarding to the given upstream base URL.
func New(upstream *url.URL, opts Options) *Proxy {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	normalized := make([]string, 0, len(opts.AllowedPaths))
	for _, p := range opts.AllowedPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		normalized = append(normalized, p)
	}

	return &Proxy{
		upstream:    upstream,
		allowedPath: normalized,
		limiter:     opts.Limiter,
		rule:        opts.Rule,
		client:      opts.Client,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Handler returns the proxy mounted under the given prefix, which is
// stripped before policy evaluation and forwarding.
func (p *Proxy) Handler(prefix string) http.Handler {
	return http.StripPrefix(prefix, p)
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.limiter != nil && !p.limiter.Consume(ratelimit.KeyFromRequest(r), p.rule) {
		p.reject(w, envelope.RateLimited())
		return
	}

	if len(p.allowedPath) == 0 {
		p.reject(w, envelope.ProxyNotConfigured())
		return
	}

	path := r.URL.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !p.pathAllowed(path) {
		p.reject(w, envelope.ForbiddenPath(path))
		return
	}

	target := *p.upstream
	target.Path = strings.TrimRight(target.Path, "/") + path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		p.reject(w, envelope.Upstream("building upstream request failed", err))
		return
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("upstream request failed", zap.String("path", path), zap.Error(err))
		p.reject(w, envelope.Upstream("engine unreachable", err))
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, parseErr := mime.ParseMediaType(contentType); parseErr != nil || !isJSON(mediaType) {
		p.logger.Warn("upstream returned non-json response",
			zap.String("path", path),
			zap.String("content_type", contentType))
		p.reject(w, envelope.BadUpstreamType(contentType))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Warn("streaming upstream body failed", zap.String("path", path), zap.Error(err))
	}
	p.count("ok")
}

func (p *Proxy) pathAllowed(path string) bool {
	for _, prefix := range p.allowedPath {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p *Proxy) reject(w http.ResponseWriter, err *envelope.Error) {
	p.count(err.Code)
	envelope.WriteError(w, err)
}

func (p *Proxy) count(result string) {
	if p.metrics != nil {
		p.metrics.ProxyResponses.WithLabelValues(result).Inc()
	}
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
