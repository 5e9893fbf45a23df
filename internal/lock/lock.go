package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Lock when another holder owns the key.
var ErrLockHeld = errors.New("lock is already held")

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Locker is a single-key Redis lock. The value identifies the holder so that
// only the holder can release it.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

// TaskAttemptKey is the lock key guarding one attempt of an invoice task.
func TaskAttemptKey(taskID string, attempt int) string {
	return fmt.Sprintf("invoice:task:%s:%d", taskID, attempt)
}

func (l *Locker) Lock(ctx context.Context, timeout time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, timeout).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

// Factory hands out lockers bound to one Redis client.
type Factory struct {
	client redis.UniversalClient
}

func NewFactory(client redis.UniversalClient) *Factory {
	return &Factory{client: client}
}

func (f *Factory) NewLocker(key, value string) *Locker {
	return NewLocker(f.client, key, value)
}

// AttemptLocker claims task attempts. The claim is released by the caller when the attempt
// finishes. If the holder dies the claim expires after ttl, which must stay below the
// queue's lease recovery window so the redelivered attempt can claim it again.
type AttemptLocker struct {
	factory *Factory
	ttl     time.Duration
}

func NewAttemptLocker(client redis.UniversalClient, ttl time.Duration) *AttemptLocker {
	return &AttemptLocker{factory: NewFactory(client), ttl: ttl}
}

func (a *AttemptLocker) Acquire(ctx context.Context, taskID string, attempt int) (func(context.Context) error, error) {
	locker := a.factory.NewLocker(TaskAttemptKey(taskID, attempt), uuid.NewString())
	if err := locker.Lock(ctx, a.ttl); err != nil {
		return nil, err
	}
	return locker.Unlock, nil
}
