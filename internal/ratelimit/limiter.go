// Package ratelimit implements a per-client token bucket limiter.
//
// Bucket state is process-local. Under horizontally scaled instances the
// effective limit is per-instance, not global; this is an accepted
// consistency relaxation of the in-memory design.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UnknownKey is the shared bucket for clients with no derivable identity.
// Multiple unidentifiable clients share this bucket; documented limitation.
const UnknownKey = "unknown"

// DefaultMaxBuckets bounds the bucket map. Oldest-seen buckets are evicted
// once the cap is exceeded.
const DefaultMaxBuckets = 65536

// Rule defines bucket capacity and refill cadence.
type Rule struct {
	WindowMs int64 // refill window in milliseconds
	Tokens   int   // bucket capacity, also tokens granted per elapsed window
}

type bucket struct {
	tokens       int
	lastRefillMs int64
	lastSeenMs   int64
}

// Limiter holds all buckets behind a single mutex. Buckets are created
// lazily on first observed request for a key and evicted only by the
// size bound, never by policy.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxBuckets int
	now        func() time.Time
	logger     *zap.Logger
}

// Options configures a Limiter.
type Options struct {
	// MaxBuckets bounds the bucket map; 0 means DefaultMaxBuckets.
	MaxBuckets int
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewLimiter creates a Limiter.
func NewLimiter(opts Options) *Limiter {
	if opts.MaxBuckets <= 0 {
		opts.MaxBuckets = DefaultMaxBuckets
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Limiter{
		buckets:    make(map[string]*bucket),
		maxBuckets: opts.MaxBuckets,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// Consume attempts to take one token from the bucket for key.
// A nil rule means no policy is configured and the request is always
// allowed. The refill clock advances on every observed request, so partial
// windows never grant partial credit.
func (l *Limiter) Consume(key string, rule *Rule) bool {
	if rule == nil || rule.Tokens <= 0 || rule.WindowMs <= 0 {
		return true
	}

	nowMs := l.now().UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rule.Tokens, lastRefillMs: nowMs}
		l.buckets[key] = b
		l.evictLocked(key)
	} else {
		elapsedWindows := (nowMs - b.lastRefillMs) / rule.WindowMs
		if elapsedWindows > 0 {
			b.tokens += int(elapsedWindows) * rule.Tokens
			if b.tokens > rule.Tokens {
				b.tokens = rule.Tokens
			}
		}
		b.lastRefillMs = nowMs
	}
	b.lastSeenMs = nowMs

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// BucketCount returns the number of live buckets.
func (l *Limiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// evictLocked drops the oldest-seen bucket while over the cap, never the
// one just touched. Caller must hold l.mu.
func (l *Limiter) evictLocked(keep string) {
	for len(l.buckets) > l.maxBuckets {
		oldestKey := ""
		oldestSeen := int64(0)
		for k, b := range l.buckets {
			if k == keep {
				continue
			}
			if oldestKey == "" || b.lastSeenMs < oldestSeen {
				oldestKey = k
				oldestSeen = b.lastSeenMs
			}
		}
		if oldestKey == "" {
			return
		}
		delete(l.buckets, oldestKey)
		l.logger.Debug("evicted rate bucket", zap.String("key", oldestKey))
	}
}

// KeyFromRequest derives the client identity for bucketing: the first
// X-Forwarded-For hop, else the connection's remote address, else UnknownKey.
func KeyFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return UnknownKey
}
