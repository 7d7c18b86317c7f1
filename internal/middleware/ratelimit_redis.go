package middleware

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/redis"
)

var loginLimitScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= limit then
    return 0
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, math.ceil(window / 1000) + 10)
return 1
`)

// RedisLoginRateLimiter shares the login window across relay instances with
// a sliding window kept in a sorted set.
type RedisLoginRateLimiter struct {
	client      *redis.Client
	maxAttempts int
}

func NewRedisLoginRateLimiter(client *redis.Client, maxAttempts int) *RedisLoginRateLimiter {
	return &RedisLoginRateLimiter{client: client, maxAttempts: maxAttempts}
}

func (l *RedisLoginRateLimiter) Allow(ctx context.Context, ip string) bool {
	now := time.Now().UnixMilli()
	window := loginWindowDuration.Milliseconds()

	allowed, err := loginLimitScript.Run(ctx, l.client, []string{redis.LoginLimitKey(ip)}, now, window, l.maxAttempts).Int()
	if err != nil {
		log.Warn().Err(err).Str("ip", ip).Msg("redis login limit check failed, allowing request")
		return true
	}
	return allowed == 1
}
