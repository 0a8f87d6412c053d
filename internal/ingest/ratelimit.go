package ingest

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/emberhq/emberwatch/internal/api"
	"github.com/emberhq/emberwatch/internal/metrics"
)

// RateLimiter holds one token bucket per tenant.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing perSecond sustained events
// per tenant with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether the tenant may proceed.
func (rl *RateLimiter) Allow(projectID string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[projectID]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[projectID] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// Middleware rate limits by the authenticated project. Must run after
// the Authenticator.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project, ok := ProjectFromContext(r.Context())
		if !ok {
			api.JSONError(w, api.ErrInternalServer)
			return
		}
		if !rl.Allow(project.ID) {
			metrics.IngestRejectedTotal.WithLabelValues("rate_limited").Inc()
			api.JSONError(w, api.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
