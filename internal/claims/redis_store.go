package claims

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewRedisClient parses the URL and checks the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// RedisStore keeps claim records as unix-millisecond strings, one key per address.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func claimKey(address common.Address) string {
	return fmt.Sprintf("faucet:claim:%s", address.Hex())
}

func (r *RedisStore) LastClaim(ctx context.Context, address common.Address) (time.Time, bool, error) {
	val, err := r.rdb.Get(ctx, claimKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get claim: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt claim record for %s: %w", address.Hex(), err)
	}
	return time.UnixMilli(ms), true, nil
}

func (r *RedisStore) RecordClaim(ctx context.Context, address common.Address, at time.Time) error {
	if err := r.rdb.Set(ctx, claimKey(address), strconv.FormatInt(at.UnixMilli(), 10), 0).Err(); err != nil {
		return fmt.Errorf("set claim: %w", err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
