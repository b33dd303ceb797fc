package middleware

import (
	"net"
	"net/http"
	"strings"

	"p2prelay/pkg/config"
	"p2prelay/pkg/errors"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-client limiter table. An evicted client
// starts again with a full bucket.
const maxTrackedClients = 10000

// clientLimiters hands out one token bucket per client key.
type clientLimiters struct {
	limit   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

func newClientLimiters(limit rate.Limit, burst, size int) *clientLimiters {
	// lru.New only fails for a non-positive size.
	buckets, _ := lru.New[string, *rate.Limiter](size)
	return &clientLimiters{limit: limit, burst: burst, buckets: buckets}
}

func (l *clientLimiters) allow(key string) bool {
	limiter, ok := l.buckets.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		if prev, found, _ := l.buckets.PeekOrAdd(key, limiter); found {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// clientIP returns the first X-Forwarded-For hop when it parses as an IP,
// otherwise the host part of the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware limits admin API requests per client IP and,
// when configured, caps the number of requests in flight.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	limits := cfg.RateLimiting.HTTP
	clients := newClientLimiters(rate.Limit(limits.RequestsPerSecond), limits.Burst, maxTrackedClients)

	var inFlight chan struct{}
	if limits.MaxConcurrent > 0 {
		inFlight = make(chan struct{}, limits.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if inFlight != nil {
			select {
			case inFlight <- struct{}{}:
				defer func() { <-inFlight }()
			default:
				abortWith(c, errors.New(errors.CodeUnavailable, "too many concurrent requests"))
				return
			}
		}

		if !clients.allow(clientIP(c.Request)) {
			c.Header("Retry-After", "1")
			abortWith(c, errors.New(errors.CodeRateLimited, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}
