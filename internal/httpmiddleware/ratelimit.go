package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// maxTrackedClients bounds the per-IP state map; when exceeded, clients idle
// long enough to have fully refilled are forgotten.
const maxTrackedClients = 10000

// SimpleTokenBucket rate-limits requests per client IP in memory. It sits in
// front of sample ingestion as abuse control; the per-(subject, leave) dedup
// in the pipeline is separate and stricter.
type SimpleTokenBucket struct {
	burst     int
	perMinute int

	mu      sync.Mutex
	clients map[string]*bucket
}

type bucket struct {
	left     int
	refilled time.Time
}

// NewSimpleTokenBucket creates a limiter allowing perMinute requests with the
// given burst. A non-positive burst defaults to perMinute.
func NewSimpleTokenBucket(burst, perMinute int) *SimpleTokenBucket {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &SimpleTokenBucket{
		burst:     burst,
		perMinute: perMinute,
		clients:   make(map[string]*bucket),
	}
}

// GinMiddleware returns a gin handler enforcing the per-IP limit.
func (l *SimpleTokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.take(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *SimpleTokenBucket) take(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.sweepLocked(now)
		}
		l.clients[key] = &bucket{left: l.burst - 1, refilled: now}
		return true
	}

	refill := int(now.Sub(b.refilled).Minutes() * float64(l.perMinute))
	if refill > 0 {
		b.left += refill
		if b.left > l.burst {
			b.left = l.burst
		}
		b.refilled = now
	}
	if b.left <= 0 {
		return false
	}
	b.left--
	return true
}

// sweepLocked forgets clients whose bucket would be full again anyway.
func (l *SimpleTokenBucket) sweepLocked(now time.Time) {
	fullAfter := time.Duration(float64(time.Minute) * float64(l.burst) / float64(l.perMinute))
	for key, b := range l.clients {
		if now.Sub(b.refilled) > fullAfter {
			delete(l.clients, key)
		}
	}
}
