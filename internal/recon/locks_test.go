package recon

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockRegistry_SerializesSameOrder(t *testing.T) {
	reg := NewLockRegistry()
	orderID := uuid.New()

	var counter, max int
	var peak sync.Mutex

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := reg.Lock(orderID)
			defer release()

			peak.Lock()
			counter++
			if counter > max {
				max = counter
			}
			peak.Unlock()

			peak.Lock()
			counter--
			peak.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "at most one holder per order at a time")
}

func TestLockRegistry_IndependentOrdersDoNotBlock(t *testing.T) {
	reg := NewLockRegistry()

	releaseA := reg.Lock(uuid.New())
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB := reg.Lock(uuid.New())
		releaseB()
		close(done)
	}()

	<-done
}

func TestLockRegistry_EntriesRemovedWhenIdle(t *testing.T) {
	reg := NewLockRegistry()
	orderID := uuid.New()

	release := reg.Lock(orderID)
	release()

	reg.mu.Lock()
	defer reg.mu.Unlock()
	assert.Empty(t, reg.locks)
}

// A notification and a redirect return for the same order must serialize:
// both flows have to hold the one shared registry, not private copies.
func TestDispatcherAndReturnFlow_ShareOrderLocks(t *testing.T) {
	reg := NewLockRegistry()
	logger := slog.New(slog.DiscardHandler)

	d := NewDispatcher(nil, nil, nil, nil, nil, reg, logger, true, time.Second)
	f := NewReturnFlow(nil, nil, nil, nil, nil, reg, logger, "/ok", "/fail")

	orderID := uuid.New()
	release := d.locks.Lock(orderID)

	acquired := make(chan struct{})
	go func() {
		r := f.locks.Lock(orderID)
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("return flow acquired the lock while the dispatcher held it")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("return flow never acquired the lock after release")
	}

	require.NotNil(t, d.locks)
	assert.Same(t, d.locks, f.locks)
}
