package ratelimitsvc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core/messaging"
)

type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)} }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func allowN(t *testing.T, rl messaging.RateLimiter, key string, limit, n int) []bool {
	t.Helper()
	got := make([]bool, 0, n)
	for i := 0; i < n; i++ {
		ok, err := rl.Allow(context.Background(), key, limit, time.Minute)
		require.NoError(t, err)
		got = append(got, ok)
	}
	return got
}

func TestLimiters(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	redisClock, memClock := newClock(), newClock()
	redisLimiter := NewRedisLimiter(rdb, "rl:")
	redisLimiter.now = redisClock.now
	memLimiter := NewMemoryLimiter()
	memLimiter.now = memClock.now

	backends := []struct {
		name  string
		rl    messaging.RateLimiter
		clock *clock
	}{
		{name: "redis", rl: redisLimiter, clock: redisClock},
		{name: "memory", rl: memLimiter, clock: memClock},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			assert.Equal(t, []bool{true, true, true, false, false}, allowN(t, b.rl, "message:u1", 3, 5))
			assert.Equal(t, []bool{true}, allowN(t, b.rl, "message:u2", 3, 1), "keys are counted apart")
			assert.Equal(t, []bool{true, true, true}, allowN(t, b.rl, "message:u1", 0, 3), "a zero limit disables the check")

			b.clock.advance(time.Minute)
			assert.Equal(t, []bool{true, true, true, false}, allowN(t, b.rl, "message:u1", 3, 4), "a new window starts over")
		})
	}
}

func TestLimiters_windowBoundary(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	for _, name := range []string{"redis", "memory"} {
		t.Run(name, func(t *testing.T) {
			c := &clock{t: time.Date(2024, 5, 2, 9, 30, 59, 0, time.UTC)}
			var rl messaging.RateLimiter
			if name == "redis" {
				r := NewRedisLimiter(rdb, "rl:")
				r.now = c.now
				rl = r
			} else {
				m := NewMemoryLimiter()
				m.now = c.now
				rl = m
			}

			assert.Equal(t, []bool{true, true, true}, allowN(t, rl, "message:u1", 3, 3))
			c.advance(time.Second)
			assert.Equal(t, []bool{true, true, true, false}, allowN(t, rl, "message:u1", 3, 4),
				"windows are fixed: twice the limit passes within two seconds around the boundary")
		})
	}
}

func TestRedisLimiter_expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rl := NewRedisLimiter(rdb, "rl:")
	rl.now = newClock().now
	allowN(t, rl, "message:u1", 3, 2)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "2", mustGet(t, mr, keys[0]))
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))

	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists(keys[0]))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestMemoryLimiter_Reap(t *testing.T) {
	c := newClock()
	rl := NewMemoryLimiter()
	rl.now = c.now

	_, _ = rl.Allow(context.Background(), "message:u1", 5, time.Minute)
	_, _ = rl.Allow(context.Background(), "conversation:u1", 5, time.Hour)

	c.advance(time.Minute)
	n, err := rl.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, rl.windows, 1)
}
