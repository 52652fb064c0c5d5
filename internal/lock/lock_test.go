package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"dashsync/internal/config"
)

func TestMemoryLockerExclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	lease, err := l.Acquire(ctx, "tenant-a", time.Minute)
	if err != nil {
		t.Fatalf("acquire err=%v", err)
	}
	if _, err := l.Acquire(ctx, "tenant-a", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire err=%v want ErrLocked", err)
	}
	if _, err := l.Acquire(ctx, "tenant-b", time.Minute); err != nil {
		t.Fatalf("other tenant err=%v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release err=%v", err)
	}
	if _, err := l.Acquire(ctx, "tenant-a", time.Minute); err != nil {
		t.Fatalf("reacquire err=%v", err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()
	stale, err := l.Acquire(ctx, "t", time.Minute)
	if err != nil {
		t.Fatalf("acquire err=%v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := l.Acquire(ctx, "t", time.Minute); err != nil {
		t.Fatalf("acquire after expiry err=%v", err)
	}
	// The expired lease must not release the new holder.
	_ = stale.Release(ctx)
	if _, err := l.Acquire(ctx, "t", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("err=%v want ErrLocked", err)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	if _, err := New(config.LockConfig{Driver: "etcd"}, config.RedisConfig{}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	l, err := New(config.LockConfig{Driver: "memory"}, config.RedisConfig{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, ok := l.(*MemoryLocker); !ok {
		t.Fatalf("locker=%T want *MemoryLocker", l)
	}
}

func TestMemoryLeaseExtend(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()
	lease, err := l.Acquire(ctx, "t", time.Minute)
	if err != nil {
		t.Fatalf("acquire err=%v", err)
	}
	now = now.Add(50 * time.Second)
	if err := lease.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("extend err=%v", err)
	}
	now = now.Add(50 * time.Second)
	if _, err := l.Acquire(ctx, "t", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("err=%v want ErrLocked after extend", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := l.Acquire(ctx, "t", time.Minute); err != nil {
		t.Fatalf("acquire after expiry err=%v", err)
	}
	if err := lease.Extend(ctx, time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("stale extend err=%v want ErrLeaseLost", err)
	}
}

func TestKeepAliveHoldsLease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	ttl := 60 * time.Millisecond
	lease, err := l.Acquire(ctx, "t", ttl)
	if err != nil {
		t.Fatalf("acquire err=%v", err)
	}
	stop := KeepAlive(ctx, lease, ttl, func(err error) { t.Errorf("extend err=%v", err) })
	time.Sleep(4 * ttl)
	if _, err := l.Acquire(ctx, "t", ttl); !errors.Is(err, ErrLocked) {
		t.Fatalf("err=%v want ErrLocked while kept alive", err)
	}
	stop()
	time.Sleep(2 * ttl)
	if _, err := l.Acquire(ctx, "t", ttl); err != nil {
		t.Fatalf("acquire after stop err=%v", err)
	}
}

func TestKeepAliveReportsLostLease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	lease, err := l.Acquire(ctx, "t", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire err=%v", err)
	}
	_ = lease.Release(ctx)

	lost := make(chan error, 1)
	stop := KeepAlive(ctx, lease, 30*time.Millisecond, func(err error) { lost <- err })
	defer stop()
	select {
	case err := <-lost:
		if !errors.Is(err, ErrLeaseLost) {
			t.Fatalf("err=%v want ErrLeaseLost", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("lost lease not reported")
	}
}
