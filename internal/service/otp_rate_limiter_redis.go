package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ventana deslizante sobre un sorted set: cada emisión es un miembro con su
// timestamp en ms. Devuelve 1 si la emisión entra en el cupo.
const redisSlidingWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return 1
`

const redisLimiterTimeout = 500 * time.Millisecond

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// redisOTPRateLimiter comparte el cupo entre instancias con la misma
// semántica que el limiter en memoria. Si redis falla deja pasar.
type redisOTPRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
	now    func() time.Time
}

func NewRedisOTPRateLimiter(client *redis.Client, window time.Duration, max int) OTPRateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisOTPRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "auth:rl:",
		now:    time.Now,
	}
}

func (l *redisOTPRateLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisLimiterTimeout)
	defer cancel()

	now := time.Now
	if l.now != nil {
		now = l.now
	}
	allowed, err := l.client.Eval(ctx, redisSlidingWindowScript, []string{l.prefix + key},
		now().UnixMilli(), l.window.Milliseconds(), l.max, uuid.NewString()).Int()
	if err != nil {
		return true
	}
	return allowed == 1
}
