// Package lock hands out exclusive, expiring leases on string keys.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrHeld is returned when another owner holds the key.
	ErrHeld = errors.New("lock held by another owner")
	// ErrNotHeld is returned when releasing a lease that expired or was taken over.
	ErrNotHeld = errors.New("lease no longer held")
)

// Lease is proof of ownership of Key until Expires.
type Lease struct {
	Key     string
	Token   string
	Expires time.Time
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

// Memory is a process-local Locker.
type Memory struct {
	mu     sync.Mutex
	leases map[string]Lease
	now    func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock returns a Memory whose lease expiry follows now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{leases: make(map[string]Lease), now: now}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.leases[key]; ok && now.Before(cur.Expires) {
		return nil, ErrHeld
	}
	l := Lease{Key: key, Token: uuid.NewString(), Expires: now.Add(ttl)}
	m.leases[key] = l
	return &l, nil
}

func (m *Memory) Release(ctx context.Context, lease *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[lease.Key]
	if !ok || cur.Token != lease.Token {
		return ErrNotHeld
	}
	delete(m.leases, lease.Key)
	return nil
}

var _ Locker = (*Memory)(nil)
