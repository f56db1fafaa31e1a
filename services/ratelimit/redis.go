package ratelimitsvc

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/messaging"
)

// incr bumps the window counter and sets its expiry on the first hit, in one round trip.
var incr = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter keeps fixed-window counters in redis, shared by every API instance.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	now    func() time.Time
}

var _ messaging.RateLimiter = (*RedisLimiter)(nil) // interface compliance check

func NewRedisLimiter(rdb redis.Scripter, prefix string) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, now: time.Now}
}

// NewRedisClient connects to the configured redis server and pings it.
func NewRedisClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

// Allow counts the call in a Redis key per fixed window, expiring with the window.
// Like every fixed-window counter it allows bursts of up to 2x limit across a window boundary.
func (rl *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	start := rl.now().UTC().Truncate(window)
	k := rl.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	n, err := incr.Run(ctx, rl.rdb, []string{k}, window.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrap(err, "counting rate limit window")
	}
	return n <= limit, nil
}
