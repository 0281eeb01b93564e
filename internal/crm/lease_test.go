package crm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chathub_backend/platform/logger"
)

func newLease(t *testing.T) (*RedisLease, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLease(rdb, time.Minute, logger.New("development")), mr
}

func TestRedisLease_AcquireAndRelease(t *testing.T) {
	lease, mr := newLease(t)

	unlock, err := lease.Lock(context.Background(), "visitor-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists(leaseKey("visitor-1")) {
		t.Fatalf("expected lease key in redis")
	}

	unlock()
	if mr.Exists(leaseKey("visitor-1")) {
		t.Fatalf("expected lease key released")
	}
}

func TestRedisLease_BlocksSecondHolderUntilRelease(t *testing.T) {
	lease, _ := newLease(t)

	unlock, err := lease.Lock(context.Background(), "visitor-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		secondUnlock, err := lease.Lock(context.Background(), "visitor-1")
		if err != nil {
			t.Errorf("second lock: %v", err)
			return
		}
		close(acquired)
		secondUnlock()
	}()

	select {
	case <-acquired:
		t.Fatalf("second holder acquired lease while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatalf("second holder never acquired released lease")
	}
}

func TestRedisLease_IndependentKeysDoNotBlock(t *testing.T) {
	lease, _ := newLease(t)

	unlockA, err := lease.Lock(context.Background(), "visitor-a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := lease.Lock(ctx, "visitor-b")
	if err != nil {
		t.Fatalf("lock b should not block on a: %v", err)
	}
	unlockB()
}

func TestRedisLease_ExpiredLeaseNotReleasedByFormerHolder(t *testing.T) {
	lease, mr := newLease(t)

	unlock, err := lease.Lock(context.Background(), "visitor-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Simulate expiry and reacquisition by another process.
	mr.Del(leaseKey("visitor-1"))
	mr.Set(leaseKey("visitor-1"), "other-holder-token")

	unlock()

	val, err := mr.Get(leaseKey("visitor-1"))
	if err != nil || val != "other-holder-token" {
		t.Fatalf("former holder released a lease it no longer owns: %q %v", val, err)
	}
}
