package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker guards the single automation run. TryAcquire never blocks waiting
// for a holder to release.
type Locker interface {
	TryAcquire(ctx context.Context, owner string) (bool, error)
	Release(ctx context.Context, owner string) error
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu    sync.Mutex
	owner string
}

// NewLocalLocker creates an unlocked LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// TryAcquire implements Locker.
func (l *LocalLocker) TryAcquire(_ context.Context, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" {
		return false, nil
	}
	l.owner = owner
	return true, nil
}

// Release implements Locker.
func (l *LocalLocker) Release(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != owner {
		return fmt.Errorf("run lock is not held by %s", owner)
	}
	l.owner = ""
	return nil
}

// Held reports whether the lock is taken.
func (l *LocalLocker) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner != ""
}

// DefaultLockKey is the Redis key of the shared run lock.
const DefaultLockKey = "autopilot:run-lock"

// DefaultLockTTL outlives the longest run; the lock expires on its own if
// the holder dies without releasing it.
const DefaultLockTTL = 2 * time.Hour

// releaseScript deletes the key only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares the run lock between processes through Redis.
type RedisLocker struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisLocker connects to redisURL and verifies the server is reachable.
func NewRedisLocker(ctx context.Context, redisURL, key string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}

	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	slog.Info("run lock backed by redis", slog.String("addr", opts.Addr), slog.String("key", key))
	return &RedisLocker{rdb: rdb, key: key, ttl: ttl}, nil
}

// TryAcquire implements Locker.
func (l *RedisLocker) TryAcquire(ctx context.Context, owner string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

// Release implements Locker.
func (l *RedisLocker) Release(ctx context.Context, owner string) error {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, owner).Int()
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run lock is not held by %s", owner)
	}
	return nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
