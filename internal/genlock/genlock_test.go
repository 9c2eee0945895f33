package genlock

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chorekeep/internal/clock"
	"chorekeep/internal/model"
)

func newTestRegistry(t *testing.T) (*Registry, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	return NewRegistry(5*time.Minute, fake, log.New(io.Discard, "", 0)), fake
}

func TestAcquire_SecondCallerBlocked(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.True(t, r.Acquire("u1", "2024-01-01"))
	assert.False(t, r.Acquire("u1", "2024-01-01"))
	assert.True(t, r.IsHeld("u1", "2024-01-01"))

	// Distinct keys are independent.
	assert.True(t, r.Acquire("u1", "2024-01-02"))
	assert.True(t, r.Acquire("u2", "2024-01-01"))
}

func TestRelease_ImmediatelyReacquirable(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.True(t, r.Acquire("u1", "2024-01-01"))
	r.Release("u1", "2024-01-01")
	assert.False(t, r.IsHeld("u1", "2024-01-01"))
	assert.True(t, r.Acquire("u1", "2024-01-01"))
}

func TestRelease_UnknownKeyIsNoop(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Release("nobody", "2024-01-01")
}

func TestAcquire_ExpiredEntryReplaced(t *testing.T) {
	r, fake := newTestRegistry(t)

	assert.True(t, r.Acquire("u1", "2024-01-01"))

	fake.Advance(5*time.Minute - time.Second)
	assert.False(t, r.Acquire("u1", "2024-01-01"), "still within ttl")

	fake.Advance(time.Second)
	assert.False(t, r.IsHeld("u1", "2024-01-01"))
	assert.True(t, r.Acquire("u1", "2024-01-01"), "ttl elapsed, lock stealable")
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	r, fake := newTestRegistry(t)

	r.Acquire("u1", "2024-01-01")
	fake.Advance(3 * time.Minute)
	r.Acquire("u2", "2024-01-01")
	fake.Advance(2 * time.Minute) // u1 now at ttl, u2 at 2m

	assert.Equal(t, 1, r.Sweep())
	assert.False(t, r.IsHeld("u1", "2024-01-01"))
	assert.True(t, r.IsHeld("u2", "2024-01-01"))
	assert.Equal(t, 1, r.Len())
}

func TestAcquire_Concurrent(t *testing.T) {
	r := NewRegistry(5*time.Minute, clock.RealClock{}, log.New(io.Discard, "", 0))

	const goroutines = 32
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Acquire(model.UserID("u1"), model.Date("2024-01-01")) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won, "exactly one goroutine may hold the lock")
}
