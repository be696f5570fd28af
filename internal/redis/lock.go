package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrSlotLockNotAcquired    = errors.New("slot lock not acquired")
	ErrSessionLockNotAcquired = errors.New("session lock not acquired")
)

// Locker guards the critical sections of the booking engine and the session
// adjustment planner. Slot locks serialize bookings against one slot; a
// session lock covers every slot of a doctor on one day, the scope a session
// adjustment rewrites.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
	WithSessionLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client     *redis.Client
	slotTTL    time.Duration
	sessionTTL time.Duration
}

// NewRedisLocker creates a locker backed by per-key Redis SETNX leases.
func NewRedisLocker(client *redis.Client, slotTTL, sessionTTL time.Duration) Locker {
	return &redisLocker{
		client:     client,
		slotTTL:    slotTTL,
		sessionTTL: sessionTTL,
	}
}

func (l *redisLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:slot:%s", slotID.String())
	return l.withLock(ctx, key, l.slotTTL, ErrSlotLockNotAcquired, fn)
}

func (l *redisLocker) WithSessionLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:session:%s:%s", doctorID.String(), day.Format("2006-01-02"))
	return l.withLock(ctx, key, l.sessionTTL, ErrSessionLockNotAcquired, fn)
}

func (l *redisLocker) withLock(ctx context.Context, key string, ttl time.Duration, notAcquired error, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return notAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
