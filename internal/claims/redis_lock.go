package claims

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries our token, so a lock
// that expired and was taken by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock's TTL under the same token check.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker shared by every relay instance pointing at the same Redis.
// A held lock is renewed every TTL/3. TTL only bounds how long a crashed holder can
// block a key.
type RedisLocker struct {
	rdb        *redis.Client
	ttl        time.Duration
	retryEvery time.Duration
	renewEvery time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retryEvery: 50 * time.Millisecond, renewEvery: ttl / 3}
}

func lockKey(key string) string {
	return fmt.Sprintf("faucet:lock:%s", key)
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	redisKey := lockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(r.retryEvery)
	defer ticker.Stop()

	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("setnx failed: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}
	}

	heldCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.keepAlive(redisKey, token, stop, cancel)
	}()

	var once sync.Once
	return heldCtx, func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel(nil)

			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer releaseCancel()
			_ = releaseScript.Run(releaseCtx, r.rdb, []string{redisKey}, token).Err()
		})
	}, nil
}

// keepAlive renews the lease until stop is closed. It cancels the holder's context
// with ErrLockLost once the token is gone or the lease may have run out unrenewed.
func (r *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(r.renewEvery)
	defer ticker.Stop()

	expiresAt := time.Now().Add(r.ttl)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), r.renewEvery)
		renewed, err := renewScript.Run(ctx, r.rdb, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
		cancel()

		switch {
		case err == nil && renewed == 1:
			expiresAt = start.Add(r.ttl)
		case err == nil:
			lost(ErrLockLost)
			return
		case time.Now().Add(r.renewEvery).After(expiresAt):
			lost(fmt.Errorf("%w: %v", ErrLockLost, err))
			return
		}
	}
}
