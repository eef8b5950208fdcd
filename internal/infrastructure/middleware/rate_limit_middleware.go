package middleware

import (
	"net/http"
	"sync"
	"time"

	"viewmux/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// admissionCost is the token price of a state-changing request. Opening
// a viewer or admitting streams kicks off player negotiation and init
// queue work, so those draw down a client's budget faster than reads.
const admissionCost = 2

// pruneThreshold is the client map size above which idle entries are
// evicted on the next lookup.
const pruneThreshold = 1024

// clientEntry pairs one client's limiter with its last use so idle
// clients can be evicted instead of accumulating forever.
type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientLimiters struct {
	mu      sync.Mutex
	entries map[string]*clientEntry
	rate    rate.Limit
	burst   int
	maxIdle time.Duration
}

func newClientLimiters(r rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{
		entries: make(map[string]*clientEntry),
		rate:    r,
		burst:   burst,
		maxIdle: 10 * time.Minute,
	}
}

func (l *clientLimiters) allow(key string, cost int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= pruneThreshold {
			l.pruneLocked(now)
		}
		entry = &clientEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, cost)
}

func (l *clientLimiters) pruneLocked(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.maxIdle {
			delete(l.entries, key)
		}
	}
}

// RateLimitMiddleware applies per-client request limits plus a shared
// in-flight cap. Reads cost one token; mutating requests cost
// admissionCost, so a client hammering the admission endpoints is
// limited harder than one polling viewer status.
func RateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	clients := newClientLimiters(rate.Limit(cfg.RateLimiting.RequestsPerSecond), cfg.RateLimiting.Burst)

	var inflight chan struct{}
	if cfg.RateLimiting.MaxConcurrent > 0 {
		inflight = make(chan struct{}, cfg.RateLimiting.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if inflight != nil {
			select {
			case inflight <- struct{}{}:
				defer func() { <-inflight }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "server is at its concurrent request limit",
				})
				return
			}
		}

		cost := 1
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			cost = admissionCost
		}
		if !clients.allow(c.ClientIP(), cost) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
