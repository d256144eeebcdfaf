package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ledger/lock"
)

// Ensure RedisLocker implements lock.Locker
var _ lock.Locker = (*RedisLocker)(nil)

// Ensure redisLockHandle implements lock.Handle
var _ lock.Handle = (*redisLockHandle)(nil)

// releaseScript deletes the key only if it still holds our token, so a holder
// whose lock expired cannot free a lock taken over by someone else.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker implements lock.Locker with SET NX PX.
type RedisLocker struct {
	client redis.Cmdable
	token  func() string
}

// Option is a functional option for configuring RedisLocker
type Option func(*RedisLocker)

// WithTokenGenerator overrides how holder tokens are generated.
func WithTokenGenerator(fn func() string) Option {
	return func(l *RedisLocker) {
		l.token = fn
	}
}

// NewRedisLocker creates a new Redis-based locker
func NewRedisLocker(client redis.Cmdable, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client: client,
		token:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire sets key to a fresh token if it does not exist.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (lock.Handle, bool, error) {
	token := l.token()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	return &redisLockHandle{client: l.client, key: key, token: token}, true, nil
}

// redisLockHandle represents one held Redis lock
type redisLockHandle struct {
	client redis.Cmdable
	key    string
	token  string
}

// Release deletes the key if it still holds this handle's token.
func (h *redisLockHandle) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Err()
}

func (h *redisLockHandle) Key() string {
	return h.key
}
