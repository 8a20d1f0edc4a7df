package recon

import (
	"sync"

	"github.com/google/uuid"
)

// LockRegistry hands out one mutex per order so concurrent transitions for
// the same order serialize while unrelated orders proceed independently.
// One registry is shared by every flow that mutates order payment state
// (dispatcher and redirect return); a notification and a redirect return for
// the same order must never interleave their read-modify-write cycles.
// Entries are reference-counted and removed when idle, so the map does not
// grow with the order table.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: map[uuid.UUID]*orderLock{}}
}

// Lock blocks until the order's lock is held and returns the release func.
func (r *LockRegistry) Lock(orderID uuid.UUID) func() {
	r.mu.Lock()
	l, ok := r.locks[orderID]
	if !ok {
		l = &orderLock{}
		r.locks[orderID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, orderID)
		}
		r.mu.Unlock()
	}
}
