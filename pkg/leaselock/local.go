package leaselock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process Locker for single instance deployments and
// tests.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
}

type localLease struct {
	token     string
	expiresAt time.Time
}

func NewLocal() *LocalLocker {
	return &LocalLocker{
		leases: map[string]localLease{},
		now:    time.Now,
	}
}

func (l *LocalLocker) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	return withLease(ctx, l, key, opts, fn)
}

func (l *LocalLocker) tryAcquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && cur.token != token && now.Before(cur.expiresAt) {
		return false, nil
	}
	l.leases[key] = localLease{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *LocalLocker) renew(_ context.Context, key, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.leases[key]
	if !ok || cur.token != token {
		return ErrLost
	}
	cur.expiresAt = l.now().Add(ttl)
	l.leases[key] = cur
	return nil
}

func (l *LocalLocker) release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[key]; ok && cur.token == token {
		delete(l.leases, key)
	}
	return nil
}
