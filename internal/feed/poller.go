package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"chorekeep/internal/bus"
	"chorekeep/internal/clock"
	"chorekeep/internal/store"
)

const DefaultPollInterval = 10 * time.Second

// Poller re-queries rows modified since its last mark and synthesizes
// polled-origin events. It exists purely as a correctness backstop for a
// dropped change feed and is intentionally redundant with it; the
// dispatcher's dedupe absorbs the overlap.
type Poller struct {
	src      store.InstanceStore
	emit     func(bus.Event)
	interval time.Duration
	clk      clock.Clock
	logger   *log.Logger

	// mark is touched by both the run loop and manual Poll callers.
	markMu sync.Mutex
	mark   time.Time
}

func NewPoller(src store.InstanceStore, emit func(bus.Event), interval time.Duration, clk clock.Clock, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	clk = clock.OrReal(clk)
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		src:      src,
		emit:     emit,
		interval: interval,
		clk:      clk,
		logger:   logger,
	}
}

// Run polls until ctx is canceled. The first mark is set at start, so
// only changes made after startup surface.
func (p *Poller) Run(ctx context.Context) {
	p.markMu.Lock()
	p.mark = p.clk.Now()
	p.markMu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs one sweep. Exported so tests and manual refresh paths can
// trigger it without waiting on the ticker.
func (p *Poller) Poll(ctx context.Context) {
	p.markMu.Lock()
	since := p.mark
	p.markMu.Unlock()

	modified, err := p.src.ListModifiedSince(ctx, since)
	if err != nil {
		// Transient store error; try again on the next tick.
		p.logger.Printf("poller: list modified since %s: %v", since.Format(time.RFC3339), err)
		return
	}

	mark := since
	for _, in := range modified {
		kind := bus.KindTaskUpdated
		if in.UpdatedAt.Equal(in.CreatedAt) {
			kind = bus.KindTaskCreated
		}
		p.emit(bus.Event{
			Kind:      kind,
			EntityID:  string(in.ID),
			Payload:   in,
			Timestamp: in.UpdatedAt,
			Origin:    bus.OriginPolled,
		})
		if in.UpdatedAt.After(mark) {
			mark = in.UpdatedAt
		}
	}

	p.markMu.Lock()
	if mark.After(p.mark) {
		p.mark = mark
	}
	p.markMu.Unlock()
}
