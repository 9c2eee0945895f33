// Package genlock is an in-process advisory lock registry keyed by
// (owner, date). It suppresses wasteful concurrent generation attempts
// within one process; cross-process duplicate suppression is the
// coordinator's existence check plus the store's uniqueness constraint,
// so entries are never persisted and expiry is handled lazily.
package genlock

import (
	"context"
	"log"
	"sync"
	"time"

	"chorekeep/internal/clock"
	"chorekeep/internal/model"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

type key struct {
	owner model.UserID
	date  model.Date
}

type entry struct {
	heldSince time.Time
}

type Registry struct {
	mu      sync.Mutex
	entries map[key]entry

	ttl    time.Duration
	clk    clock.Clock
	logger *log.Logger
}

func NewRegistry(ttl time.Duration, clk clock.Clock, logger *log.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clk = clock.OrReal(clk)
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		entries: map[key]entry{},
		ttl:     ttl,
		clk:     clk,
		logger:  logger,
	}
}

// Acquire is non-blocking: it returns false immediately when a live entry
// exists for the key. An entry held for at least the TTL is treated as
// absent and silently replaced.
func (r *Registry) Acquire(owner model.UserID, date model.Date) bool {
	now := r.clk.Now()
	k := key{owner: owner, date: date}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[k]; ok {
		if now.Sub(e.heldSince) < r.ttl {
			return false
		}
		r.logger.Printf("genlock: replacing expired lock owner=%s date=%s held=%s", owner, date, now.Sub(e.heldSince))
	}
	r.entries[k] = entry{heldSince: now}
	return true
}

// Release removes the entry for the key unconditionally, last writer wins.
func (r *Registry) Release(owner model.UserID, date model.Date) {
	r.mu.Lock()
	delete(r.entries, key{owner: owner, date: date})
	r.mu.Unlock()
}

func (r *Registry) IsHeld(owner model.UserID, date model.Date) bool {
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key{owner: owner, date: date}]
	return ok && now.Sub(e.heldSince) < r.ttl
}

// Sweep drops expired entries and returns how many were removed. Acquire
// already treats expired entries as absent; sweeping just bounds memory.
func (r *Registry) Sweep() int {
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for k, e := range r.entries {
		if now.Sub(e.heldSince) >= r.ttl {
			delete(r.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until ctx is canceled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Printf("genlock: swept %d expired entries", n)
			}
		}
	}
}

// Len reports live (non-expired) entries.
func (r *Registry) Len() int {
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if now.Sub(e.heldSince) < r.ttl {
			n++
		}
	}
	return n
}
