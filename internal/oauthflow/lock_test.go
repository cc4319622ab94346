package oauthflow

import (
	"context"
	"testing"
	"time"
)

func TestGlobalLock_SerializesAcquirers(t *testing.T) {
	l := newGlobalLock()

	release, err := l.acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(ctx); err == nil {
		t.Fatal("expected the second acquire to time out while the first is held")
	}

	release()
}

func TestGlobalLock_ReleaseIsIdempotent(t *testing.T) {
	l := newGlobalLock()
	release, err := l.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release() // must not panic or double-unlock the semaphore
}

func TestGlobalLock_TimeoutDoesNotLeakTheLock(t *testing.T) {
	l := newGlobalLock()
	release, err := l.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(ctx); err == nil {
		t.Fatal("expected timeout while lock is held")
	}

	release()

	// The lock must still be acquirable after the contended (and abandoned)
	// waiter's context expired.
	release2, err := l.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}
