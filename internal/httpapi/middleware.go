package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arb-edge/internal/envelope"
	"arb-edge/internal/observability"
	"arb-edge/internal/ratelimit"
)

// statusWriter captures the status code for access logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// instrument wraps a route with request-ID assignment, access logging,
// duration metrics, and panic recovery.
func instrument(route string, logger *zap.Logger, metrics *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panicked",
					zap.String("route", route),
					zap.String("request_id", requestID),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				envelope.WriteError(sw, envelope.Internal(fmt.Errorf("panic: %v", rec)))
			}

			elapsed := time.Since(start)
			if metrics != nil {
				metrics.RequestDuration.
					WithLabelValues(route, strconv.Itoa(sw.status)).
					Observe(elapsed.Seconds())
			}
			logger.Info("request",
				zap.String("route", route),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", elapsed),
				zap.String("request_id", requestID))
		}()

		next.ServeHTTP(sw, r)
	})
}

// rateLimited gates a route with the shared limiter. A nil rule passes
// everything through.
func rateLimited(limiter *ratelimit.Limiter, rule *ratelimit.Rule, metrics *observability.Metrics, next http.Handler) http.Handler {
	if limiter == nil || rule == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Consume(ratelimit.KeyFromRequest(r), rule) {
			if metrics != nil {
				metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
			}
			envelope.WriteError(w, envelope.RateLimited())
			return
		}
		if metrics != nil {
			metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
		}
		next.ServeHTTP(w, r)
	})
}
