// Package lease provides a single-leader guard for background jobs that
// must not run on two instances at once.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when another holder owns the lease.
var ErrNotAcquired = errors.New("lease: held by another instance")

// Lease is an obtained lease; Release is safe to call once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker obtains named leases with a bounded lifetime.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// Local is a process-local Locker used when neither redis nor postgres is
// configured.
type Local struct {
	mu     sync.Mutex
	held   map[string]localEntry
	now    func() time.Time
	serial uint64
}

type localEntry struct {
	serial  uint64
	expires time.Time
}

// NewLocal returns an empty local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]localEntry), now: time.Now}
}

func (l *Local) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[name]; ok && now.Before(cur.expires) {
		return nil, ErrNotAcquired
	}
	l.serial++
	l.held[name] = localEntry{serial: l.serial, expires: now.Add(ttl)}
	return &localLease{owner: l, name: name, serial: l.serial}, nil
}

type localLease struct {
	owner  *Local
	name   string
	serial uint64
}

func (ll *localLease) Release(context.Context) error {
	ll.owner.mu.Lock()
	defer ll.owner.mu.Unlock()
	if cur, ok := ll.owner.held[ll.name]; ok && cur.serial == ll.serial {
		delete(ll.owner.held, ll.name)
	}
	return nil
}
