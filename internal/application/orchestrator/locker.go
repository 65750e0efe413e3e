package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Locker grants exclusive, expiring leases on job names. TryLock reports
// ok=false without an error when another holder owns a live lease. Unlock
// releases the lease only if token still owns it.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, name, token string) error
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is a Locker for a single process.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

func (l *MemoryLocker) TryLock(_ context.Context, name string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, held := l.leases[name]; held && now.Before(cur.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.leases[name] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, held := l.leases[name]; held && cur.token == token {
		delete(l.leases, name)
	}
	return nil
}
