package repo

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type heldLock struct {
	token   string
	expires time.Time
}

// localLocks stands in for Redis when none is configured. It only
// serializes callers inside this process.
type localLocks struct {
	mu   sync.Mutex
	held map[string]heldLock
}

func (l *localLocks) acquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return false
	}
	if l.held == nil {
		l.held = make(map[string]heldLock)
	}
	l.held[key] = heldLock{token: token, expires: now.Add(ttl)}
	return true
}

func (l *localLocks) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[key]; ok && h.token == token {
		delete(l.held, key)
	}
}

// AcquireLock takes key for ttl and returns the token needed to release it.
// Without a Redis client the lock is held in process memory.
func (r *Repository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if r.rdb == nil {
		if !r.locks.acquire(key, token, ttl) {
			return "", ErrLockHeld
		}
		return token, nil
	}
	ok, err := r.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// ReleaseLock gives key back if token still owns it.
func (r *Repository) ReleaseLock(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	if r.rdb == nil {
		r.locks.release(key, token)
		return nil
	}
	return releaseScript.Run(ctx, r.rdb, []string{key}, token).Err()
}
