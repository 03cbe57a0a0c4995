package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/zentra/internal/cooldown"
	"github.com/Tyrowin/zentra/internal/metrics"
)

type rateLimitedResponse struct {
	Detail     string    `json:"detail"`
	RetryAfter float64   `json:"retry_after"`
	ResetsAt   time.Time `json:"resets_at"`
}

// clientIP returns the request's remote host. When proxy headers are
// trusted, chi's RealIP middleware has already replaced RemoteAddr with the
// forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admit runs limiter for key and writes the 429 response on denial. It
// reports whether the request may continue. Limiter store failures let the
// request through.
func (g *Gateway) admit(w http.ResponseWriter, r *http.Request, limiter *cooldown.Limiter, key string) bool {
	decision, err := limiter.Admit(r.Context(), key)
	if err != nil {
		g.logger.Warn().Err(err).Str("limiter", limiter.Name()).Msg("rate limiter unavailable, admitting request")
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetsAt.Unix(), 10))

	if decision.Allowed {
		return true
	}

	metrics.RateLimitDenied.WithLabelValues(limiter.Name()).Inc()
	g.logger.Warn().
		Str("limiter", limiter.Name()).
		Str("ip", clientIP(r)).
		Str("path", r.URL.Path).
		Dur("retry_after", decision.RetryAfter).
		Msg("rate limit exceeded")

	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
	writeJSON(w, http.StatusTooManyRequests, rateLimitedResponse{
		Detail:     "Rate limit exceeded.",
		RetryAfter: decision.RetryAfter.Seconds(),
		ResetsAt:   decision.ResetsAt.UTC(),
	})
	return false
}

// globalRateLimit applies the global limiter, keyed by client address, to
// every request.
func (g *Gateway) globalRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.admit(w, r, g.globalLimiter, clientIP(r)) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger returns a request logging middleware using zerolog.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// recordMetrics records Prometheus request metrics labelled by route pattern.
func recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusSwitchingProtocols
		}

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
