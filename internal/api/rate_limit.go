package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/mockupflow/internal/ratelimit"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject, route string, cost int) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
		if subject == "" {
			subject = "anonymous"
		}
		route := routeLabel(r.URL.Path)

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, route, routeCost(route))
		if errors.Is(err, ratelimit.ErrCostExceedsCapacity) {
			s.logger.Printf("rate limit capacity below route cost route=%s err=%v", route, err)
			s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "request cost exceeds rate limit capacity",
			})
			return
		}
		if err != nil {
			s.logger.Printf("rate limiter check failed subject=%s route=%s err=%v", subject, route, err)
			next.ServeHTTP(w, r)
			return
		}

		if decision.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

func shouldRateLimit(r *http.Request) bool {
	if r.Method == http.MethodGet {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/jobs") || strings.HasPrefix(r.URL.Path, "/v1/projects")
}

// MaxRouteCost is the most tokens any single request takes; a bucket smaller
// than this can never admit an enhance request.
const MaxRouteCost = 4

// routeCost charges the CPU-heavy routes more than one token.
func routeCost(route string) int {
	switch route {
	case "/v1/jobs/{id}/start":
		return 2
	case "/v1/jobs/{id}/enhance":
		return MaxRouteCost
	default:
		return 1
	}
}
