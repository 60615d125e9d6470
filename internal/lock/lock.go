// Package lock provides the single-writer lock that keeps ranking runs from
// overlapping.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLockHeld is returned by TryAcquire when another holder owns the lock.
	ErrLockHeld = errors.New("lock held by another run")

	// ErrLockNotHeld is returned by Release when the token no longer owns the
	// lock, typically because the TTL expired.
	ErrLockNotHeld = errors.New("lock not held")
)

// DefaultTTL bounds how long a crashed holder can block other runs.
const DefaultTTL = 10 * time.Minute

// Locker is a mutual-exclusion lock with automatic expiry.
type Locker interface {
	// TryAcquire takes the lock without waiting and returns the owner token.
	TryAcquire(ctx context.Context) (string, error)
	// Release frees the lock if token still owns it.
	Release(ctx context.Context, token string) error
}

// MemoryLocker is an in-process Locker for single-instance deployments.
type MemoryLocker struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewMemoryLocker creates a MemoryLocker. A zero ttl uses DefaultTTL.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLocker{ttl: ttl, now: time.Now}
}

// TryAcquire implements Locker.
func (l *MemoryLocker) TryAcquire(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.token != "" && now.Before(l.expires) {
		return "", ErrLockHeld
	}
	l.token = uuid.NewString()
	l.expires = now.Add(l.ttl)
	return l.token, nil
}

// Release implements Locker.
func (l *MemoryLocker) Release(_ context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if token == "" || l.token != token || !l.now().Before(l.expires) {
		return ErrLockNotHeld
	}
	l.token = ""
	l.expires = time.Time{}
	return nil
}
