package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// RouteLimiter decides whether one request for (identity, route) may proceed
type RouteLimiter interface {
	Allow(identity, route string) services.RateLimitResult
}

// unmatchedRoute keys every request that matches no route, so unknown paths
// cannot grow the bucket map
const unmatchedRoute = "*"

// RouteKey returns "METHOD pattern" for the chi route r will be served by
func RouteKey(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.Routes != nil {
		if pattern := rctx.Routes.Find(chi.NewRouteContext(), r.Method, r.URL.Path); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " " + unmatchedRoute
}

// RateLimit enforces per-client, per-route fixed-window quotas. Every response
// carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset
// (unix seconds); rejections are 429 with Retry-After.
func RateLimit(limiter RouteLimiter, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := pkghttp.ExtractClientIP(r, ipConfig)
			route := RouteKey(r)

			result := limiter.Allow(clientIP, route)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				if result.Sustained {
					logger.Warn("sustained rate limit violation",
						slog.String("route", route),
						slog.String("ip_address", pkglogger.MaskAddress(clientIP)),
						slog.Int("limit", result.Limit))
				}
				pkghttp.WriteTooManyRequests(w, "Too many requests", result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// FloodGuard is a coarse per-IP ceiling across all routes, applied before
// routing. requestsPerMinute <= 0 disables it.
func FloodGuard(requestsPerMinute int, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithResponseHeaders(httprate.ResponseHeaders{}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests", time.Minute)
		}),
	)
}
