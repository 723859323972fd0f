package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const loginVisitorIdle = 10 * time.Minute

type loginVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginThrottle limita intentos de login por IP con un token bucket.
type LoginThrottle struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[string]*loginVisitor
	lastSweep time.Time
	now       func() time.Time
}

// NewLoginThrottle permite perMinute intentos por minuto y por IP. Con
// perMinute <= 0 devuelve nil y el middleware no limita.
func NewLoginThrottle(perMinute int) *LoginThrottle {
	if perMinute <= 0 {
		return nil
	}
	return &LoginThrottle{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		visitors: make(map[string]*loginVisitor),
		now:      time.Now,
	}
}

func (t *LoginThrottle) Allow(ip string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)
	v, ok := t.visitors[ip]
	if !ok {
		v = &loginVisitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (t *LoginThrottle) sweepLocked(now time.Time) {
	if now.Sub(t.lastSweep) < loginVisitorIdle {
		return
	}
	for ip, v := range t.visitors {
		if now.Sub(v.lastSeen) >= loginVisitorIdle {
			delete(t.visitors, ip)
		}
	}
	t.lastSweep = now
}

// Middleware corta con 429 cuando la IP agotó su cupo.
func (t *LoginThrottle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
