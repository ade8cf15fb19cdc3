package job

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
)

// Locker grants one holder at a time across processes.
type Locker interface {
	// Acquire reports false when someone else holds the lock. release must
	// be called by the holder when done.
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// releaseScript deletes the key only while it still carries our token, so an
// expired holder never frees a lock that has since changed hands.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLock struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

func NewRedisLock(rdb redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{rdb: rdb, key: key, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token, err := gonanoid.New()
	if err != nil {
		return nil, false, err
	}

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}
