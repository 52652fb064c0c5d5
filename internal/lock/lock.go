// Package lock serializes sync runs per tenant. The memory locker covers a
// single process; the redis locker covers several replicas sharing a store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dashsync/internal/config"
)

var (
	ErrLocked    = errors.New("lock: already held")
	ErrLeaseLost = errors.New("lock: lease no longer held")
)

type Locker interface {
	// Acquire returns ErrLocked when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Lease interface {
	// Extend resets the lease to expire ttl from now. It returns
	// ErrLeaseLost once another holder owns the key.
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// New builds the locker selected by cfg.Driver ("memory" or "redis").
func New(cfg config.LockConfig, rcfg config.RedisConfig) (Locker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     rcfg.Addr,
			Password: rcfg.Password,
			DB:       rcfg.DB,
		})
		return NewRedisLocker(client, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("lock: unknown driver %q", cfg.Driver)
	}
}

type memEntry struct {
	token   string
	expires time.Time
}

type MemoryLocker struct {
	mu    sync.Mutex
	items map[string]memEntry
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{items: map[string]memEntry{}, now: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if it, ok := l.items[key]; ok && (it.expires.IsZero() || now.Before(it.expires)) {
		return nil, ErrLocked
	}
	e := memEntry{token: uuid.NewString()}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	l.items[key] = e
	return &memLease{l: l, key: key, token: e.token}, nil
}

type memLease struct {
	l     *MemoryLocker
	key   string
	token string
}

func (m *memLease) Extend(ctx context.Context, ttl time.Duration) error {
	_ = ctx
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	it, ok := m.l.items[m.key]
	if !ok || it.token != m.token {
		return ErrLeaseLost
	}
	if ttl > 0 {
		it.expires = m.l.now().Add(ttl)
	} else {
		it.expires = time.Time{}
	}
	m.l.items[m.key] = it
	return nil
}

func (m *memLease) Release(ctx context.Context) error {
	_ = ctx
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	if it, ok := m.l.items[m.key]; ok && it.token == m.token {
		delete(m.l.items, m.key)
	}
	return nil
}

// Deletes the key only while it still carries our token, so an expired
// lease never releases a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	if tonumber(ARGV[2]) > 0 then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return redis.call("PERSIST", KEYS[1]) + 1
end
return 0
`)

type RedisLocker struct {
	Client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{Client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLease{client: l.Client, key: l.prefix + key, token: token}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (r *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, r.client, []string{r.key}, r.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock: extend %s: %w", r.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: release %s: %w", r.key, err)
	}
	return nil
}

// KeepAlive extends lease every ttl/3 until stop is called or ctx ends.
// onErr sees every failed extension; renewal ends after ErrLeaseLost.
func KeepAlive(ctx context.Context, lease Lease, ttl time.Duration, onErr func(error)) (stop func()) {
	if lease == nil || ttl <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		every := ttl / 3
		if every <= 0 {
			every = ttl
		}
		tick := time.NewTicker(every)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
			err := lease.Extend(ctx, ttl)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if onErr != nil {
				onErr(err)
			}
			if errors.Is(err, ErrLeaseLost) {
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
