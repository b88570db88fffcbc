// Package locker provides named, non-blocking, expiring locks used to keep
// periodic jobs from running on more than one node at a time.
package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/syncx"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Unlock releases a lock obtained from TryLock.
type Unlock func(ctx context.Context) error

type Locker interface {
	// TryLock makes one attempt to take name for at most ttl. It returns
	// common.ErrLockNotAcquired when another holder owns the lock and any
	// other error when the lock backend failed.
	TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, error)
}

// RedisLocker takes locks with redsync on a Redis deployment shared by all
// nodes.
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
}

func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, error) {
	key := name
	if l.prefix != "" {
		key = l.prefix + ":lock:" + name
	}
	m := l.rs.NewMutex(key, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := m.LockContext(ctx); err != nil {
		if lockTaken(err) {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrLockNotAcquired, name, err)
		}
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	return func(ctx context.Context) error {
		if _, err := m.UnlockContext(ctx); err != nil {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		return nil
	}, nil
}

// lockTaken tells contention apart from Redis being unreachable.
func lockTaken(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	var taken *redsync.ErrTaken
	var nodeTaken *redsync.ErrNodeTaken
	return errors.As(err, &taken) || errors.As(err, &nodeTaken)
}

// LocalLocker serialises holders inside one process. ttl is ignored; the
// lock is held until released.
type LocalLocker struct {
	mu *syncx.KeyedMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{mu: syncx.NewKeyedMutex()}
}

func (l *LocalLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock(name) {
		return nil, fmt.Errorf("%w: %s", common.ErrLockNotAcquired, name)
	}
	return func(context.Context) error {
		l.mu.Unlock(name)
		return nil
	}, nil
}
