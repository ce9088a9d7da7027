package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewService(client, nil), mr
}

func TestTryAcquireExcludesSecondHolder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, ok, err := svc.TryAcquire(ctx, "job_assignment:job-1", 30*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok || token == "" {
		t.Fatalf("expected first acquire to succeed")
	}

	_, ok, err = svc.TryAcquire(ctx, "job_assignment:job-1", 30*time.Second)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected second acquire to be excluded")
	}

	// A different job is an independent lock.
	_, ok, err = svc.TryAcquire(ctx, "job_assignment:job-2", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected independent key to acquire, ok=%v err=%v", ok, err)
	}
}

func TestReleaseRequiresMatchingToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, ok, err := svc.TryAcquire(ctx, "job_assignment:job-1", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	if err := svc.Release(ctx, "job_assignment:job-1", "wrong-token"); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld for wrong token, got %v", err)
	}

	if err := svc.Release(ctx, "job_assignment:job-1", token); err != nil {
		t.Fatalf("release with matching token: %v", err)
	}

	// Key is free again.
	_, ok, err = svc.TryAcquire(ctx, "job_assignment:job-1", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected reacquire after release, ok=%v err=%v", ok, err)
	}
}

func TestTTLExpiryFreesLock(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	token, ok, err := svc.TryAcquire(ctx, "job_assignment:job-1", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	mr.FastForward(31 * time.Second)

	_, ok, err = svc.TryAcquire(ctx, "job_assignment:job-1", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire after ttl expiry, ok=%v err=%v", ok, err)
	}

	// The original holder's release must not free the new holder's lock.
	if err := svc.Release(ctx, "job_assignment:job-1", token); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld for stale token, got %v", err)
	}
}
