// Package bus fans normalized sync events out to in-process listeners.
// It is the single injection point for local producers and for the
// channel set's merged stream.
package bus

import (
	"log"
	"sync"
	"time"

	"chorekeep/internal/clock"
)

const DefaultDedupeWindow = time.Minute

type Dispatcher struct {
	mu        sync.Mutex
	listeners map[int]func(Event)
	nextID    int

	seen   map[string]time.Time
	window time.Duration

	online bool
	queue  []Event

	clk    clock.Clock
	logger *log.Logger
}

func NewDispatcher(window time.Duration, clk clock.Clock, logger *log.Logger) *Dispatcher {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	clk = clock.OrReal(clk)
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		listeners: map[int]func(Event){},
		seen:      map[string]time.Time{},
		window:    window,
		online:    true,
		clk:       clk,
		logger:    logger,
	}
}

// Subscribe registers fn for every future event. The returned func
// unsubscribes; calling it more than once is harmless.
func (d *Dispatcher) Subscribe(fn func(Event)) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// Publish delivers the event to every listener, once per logical event.
// While offline, events are buffered in arrival order instead.
func (d *Dispatcher) Publish(e Event) {
	d.mu.Lock()
	if !d.online {
		d.queue = append(d.queue, e)
		d.mu.Unlock()
		return
	}
	fns, dup := d.admitLocked(e)
	d.mu.Unlock()

	if dup {
		return
	}
	d.invoke(fns, e)
}

// SetOnline toggles offline buffering. Going online flushes the buffered
// events in enqueue order before any new publish is processed.
func (d *Dispatcher) SetOnline(online bool) {
	d.mu.Lock()
	if d.online == online {
		d.mu.Unlock()
		return
	}
	d.online = online
	if !online {
		d.mu.Unlock()
		return
	}

	pending := d.queue
	d.queue = nil

	type delivery struct {
		fns []func(Event)
		e   Event
	}
	flush := make([]delivery, 0, len(pending))
	for _, e := range pending {
		fns, dup := d.admitLocked(e)
		if !dup {
			flush = append(flush, delivery{fns: fns, e: e})
		}
	}
	d.mu.Unlock()

	if len(flush) > 0 {
		d.logger.Printf("bus: flushing %d buffered events", len(flush))
	}
	for _, dl := range flush {
		d.invoke(dl.fns, dl.e)
	}
}

// Pending reports the number of buffered offline events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// admitLocked records the event's dedupe key and snapshots the listener
// set. Caller holds d.mu.
func (d *Dispatcher) admitLocked(e Event) (fns []func(Event), duplicate bool) {
	now := d.clk.Now()
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}

	k := e.dedupeKey()
	if _, ok := d.seen[k]; ok {
		return nil, true
	}
	d.seen[k] = now

	fns = make([]func(Event), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	return fns, false
}

func (d *Dispatcher) invoke(fns []func(Event), e Event) {
	for _, fn := range fns {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					d.logger.Printf("bus: listener panicked on %s %s: %v", e.Kind, e.EntityID, rec)
				}
			}()
			fn(e)
		}()
	}
}
