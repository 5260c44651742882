package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobLock guards a periodic job so only one holder runs it at a time.
// TryLock returns a token that must be passed to Unlock; a lock whose holder
// died expires after ttl.
type JobLock interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error)
	Unlock(ctx context.Context, name, token string) error
}

type localLease struct {
	token   string
	expires time.Time
}

// LocalJobLock is a process-local JobLock, used when no Redis is configured
type LocalJobLock struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
}

// NewLocalJobLock creates a new LocalJobLock
func NewLocalJobLock() *LocalJobLock {
	return &LocalJobLock{
		leases: make(map[string]localLease),
		now:    time.Now,
	}
}

// TryLock acquires the named lock if it is free or expired
func (l *LocalJobLock) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.leases[name]; ok && now.Before(lease.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.leases[name] = localLease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

// Unlock releases the named lock if token still owns it
func (l *LocalJobLock) Unlock(ctx context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.leases[name]; ok && lease.token == token {
		delete(l.leases, name)
	}
	return nil
}
