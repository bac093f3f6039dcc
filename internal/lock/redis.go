package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL     = 30 * time.Second
	defaultBackoff = 100 * time.Millisecond
)

// Redis is a lock shared by every process that talks to the same Redis. Use it
// when more than one cardops instance writes to one database.
type Redis struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
}

// Connect pings addr and returns a client ready for NewRedis.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: redislock.New(rdb), prefix: prefix, ttl: ttl}
}

// Lock retries until the lock is obtained or ctx is done. The lock expires
// after the TTL if the holder dies without releasing it.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	opts := &redislock.Options{RetryStrategy: redislock.LinearBackoff(defaultBackoff)}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ttl)
		defer cancel()
	}

	l, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("could not obtain lock %s", key)
	} else if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	return func() {
		_ = l.Release(context.Background())
	}, nil
}
