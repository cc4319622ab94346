package oauthflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxWaitTime bounds how long a caller will queue for the global OAuth lock
// before giving up: only one authorization flow may be in flight across the
// whole gateway at a time, since they share the single loopback callback
// listener.
const maxWaitTime = 5 * time.Minute

// cooldown is the minimum spacing enforced between the end of one flow and
// the start of the next, so a user who just finished (or abandoned) a
// browser-based consent screen doesn't immediately get thrown into another.
const cooldown = 30 * time.Second

// globalLock serializes access to the one OAuth flow the gateway can run at
// a time. It is a 1-buffered channel rather than sync.Mutex so a caller that
// gives up while waiting never leaves a goroutine that later acquires the
// lock with nobody left to release it.
type globalLock struct {
	sem chan struct{}

	mu       sync.Mutex
	lastDone time.Time
}

func newGlobalLock() *globalLock {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	return &globalLock{sem: sem}
}

// acquire blocks until the lock is free (respecting cooldown) or ctx /
// maxWaitTime elapses, whichever comes first. The returned release func
// must be called exactly once.
func (l *globalLock) acquire(ctx context.Context) (release func(), err error) {
	ctx, cancel := context.WithTimeout(ctx, maxWaitTime)
	defer cancel()

	select {
	case <-l.sem:
	case <-ctx.Done():
		return nil, fmt.Errorf("oauthflow: timed out waiting for the authorization lock: %w", ctx.Err())
	}

	l.mu.Lock()
	wait := cooldown - time.Since(l.lastDone)
	l.mu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			l.sem <- struct{}{}
			return nil, fmt.Errorf("oauthflow: timed out during cooldown: %w", ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.lastDone = time.Now()
			l.mu.Unlock()
			l.sem <- struct{}{}
		})
	}, nil
}
