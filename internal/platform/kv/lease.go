package kv

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLeaseHeld is returned when another holder owns the lease.
var ErrLeaseHeld = errors.New("lease held by another holder")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out exclusive, expiring leases.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error)
}

// Lease is a held lock. Release it when done; it expires on its own after ttl.
type Lease struct {
	name    string
	token   string
	release func(ctx context.Context) error
}

func (l *Lease) Name() string { return l.name }

func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.release == nil {
		return nil
	}
	return l.release(ctx)
}

type RedisLocker struct {
	c      *redis.Client
	prefix string
}

func NewRedisLocker(c *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{c: c, prefix: prefix}
}

func (r *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	key := r.prefix + name
	token := uuid.NewString()
	ok, err := r.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &Lease{
		name:  name,
		token: token,
		release: func(ctx context.Context) error {
			return releaseScript.Run(ctx, r.c, []string{key}, token).Err()
		},
	}, nil
}

// LocalLocker always grants the lease. Used when no Redis is configured and
// a single replica runs the background jobs.
type LocalLocker struct{}

func (LocalLocker) Acquire(_ context.Context, name string, _ time.Duration) (*Lease, error) {
	return &Lease{name: name}, nil
}
