package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tracking-guardian/config"
	"tracking-guardian/internal/core/ports"
	"tracking-guardian/internal/metrics"
	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RateLimitScope distinguishes the two limiter positions in the chain.
type RateLimitScope string

const (
	ScopePreBody  RateLimitScope = "pre_body"
	ScopePostShop RateLimitScope = "post_shop"
)

// ResilientLimiter wraps the shared rate-limit store with a circuit
// breaker and a process-local fixed-window fallback. When the store is
// down and fallback is not permitted, checks fail with the store error.
type ResilientLimiter struct {
	store         ports.RateLimitStore
	breaker       *gobreaker.CircuitBreaker
	local         *localWindow
	timeout       time.Duration
	allowFallback bool
	log           zerolog.Logger
}

// NewResilientLimiter creates a limiter over the shared store.
// allowFallback permits the in-memory window when the store is unreachable.
func NewResilientLimiter(store ports.RateLimitStore, timeout time.Duration, allowFallback bool, log zerolog.Logger) *ResilientLimiter {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "ratelimit-store",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &ResilientLimiter{
		store:         store,
		breaker:       breaker,
		local:         newLocalWindow(),
		timeout:       timeout,
		allowFallback: allowFallback,
		log:           log,
	}
}

// Allow checks the shared store first; on store or breaker failure it
// falls back to the local window when permitted.
func (l *ResilientLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	result, err := l.breaker.Execute(func() (interface{}, error) {
		checkCtx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		return l.store.Allow(checkCtx, key, limit, window)
	})
	if err == nil {
		return result.(*ports.RateLimitResult), nil
	}

	if !l.allowFallback {
		return nil, err
	}
	l.log.Warn().Err(err).Str("key", key).Msg("rate limit store unavailable, using local fallback window")
	return l.local.allow(key, limit, window), nil
}

// localWindow is the degraded-mode fixed-window counter. Only consulted
// when the shared store is down, so a plain mutex is fine here.
type localWindow struct {
	mu      sync.Mutex
	counts  map[string]int64
	windows map[string]int64
}

func newLocalWindow() *localWindow {
	return &localWindow{
		counts:  make(map[string]int64),
		windows: make(map[string]int64),
	}
}

func (w *localWindow) allow(key string, limit int64, window time.Duration) *ports.RateLimitResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	windowID := time.Now().Unix() / int64(window.Seconds())
	if w.windows[key] != windowID {
		w.windows[key] = windowID
		w.counts[key] = 0
	}
	w.counts[key]++
	count := w.counts[key]

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   (windowID + 1) * int64(window.Seconds()),
	}
}

// PreBodyRateLimit throttles per (client IP, shop-domain header) before the
// body is read.
func PreBodyRateLimit(limiter *ResilientLimiter, rule config.RateLimitConfig, m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	return rateLimitStage(limiter, rule, ScopePreBody, m, log, func(c *gin.Context, ic *IngestContext) string {
		shopHeader := ic.ShopDomainHeader
		if shopHeader == "" {
			shopHeader = "unknown"
		}
		return fmt.Sprintf("ip:%s:%s", c.ClientIP(), shopHeader)
	})
}

// PostShopRateLimit throttles per (shop domain, client IP) once the shop is
// resolved.
func PostShopRateLimit(limiter *ResilientLimiter, rule config.RateLimitConfig, m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	return rateLimitStage(limiter, rule, ScopePostShop, m, log, func(c *gin.Context, ic *IngestContext) string {
		return fmt.Sprintf("shop:%s:ip:%s", ic.ShopDomain, c.ClientIP())
	})
}

func rateLimitStage(limiter *ResilientLimiter, rule config.RateLimitConfig, scope RateLimitScope, m *metrics.Metrics, log zerolog.Logger, keyFn func(*gin.Context, *IngestContext) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ic, ok := mustContext(c, false)
		if !ok {
			return
		}

		key := keyFn(c, ic)
		result, err := limiter.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			m.RejectionsTotal.WithLabelValues(string(scope), "store_unavailable").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrStoreUnavailable("rate-limit", err))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			m.RateLimitHits.WithLabelValues(string(scope)).Inc()
			log.Warn().Str("key", key).Str("scope", string(scope)).Msg("rate limit exceeded")
			response.Error(c, ic.IsProduction, apperror.ErrRateLimitExceeded(int(retryAfter)))
			return
		}

		c.Next()
	}
}
