// Package feed merges the three sync propagation paths — same-device
// broadcast, store change feed, and polling fallback — into one stream
// feeding the dispatcher. The producers write into a single fan-in
// channel; only the run loop touches the dispatcher, so ordering within
// the merged stream needs no locking.
package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chorekeep/internal/bus"
	"chorekeep/internal/clock"
	"chorekeep/internal/store"
)

type Options struct {
	Store        store.Store
	Dispatcher   *bus.Dispatcher
	Hub          *Hub // optional; nil means no same-device peers
	ProcessID    string
	PollInterval time.Duration
	EchoWindow   time.Duration
	Clock        clock.Clock
	Logger       *log.Logger
}

type Set struct {
	dispatcher *bus.Dispatcher
	changefeed *ChangeFeed
	poller     *Poller
	member     *Member
	processID  string
	clk        clock.Clock
	logger     *log.Logger

	events chan bus.Event

	mu     sync.Mutex
	online bool
	outbox []bus.Event

	cancel context.CancelFunc
	done   sync.WaitGroup
}

func NewSet(opts Options) *Set {
	opts.Clock = clock.OrReal(opts.Clock)
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.ProcessID == "" {
		opts.ProcessID = uuid.NewString()
	}

	s := &Set{
		dispatcher: opts.Dispatcher,
		processID:  opts.ProcessID,
		clk:        opts.Clock,
		logger:     opts.Logger,
		events:     make(chan bus.Event, 256),
		online:     true,
	}

	emit := func(e bus.Event) { s.events <- e }
	s.changefeed = NewChangeFeed(opts.Store, emit, opts.Logger)
	s.poller = NewPoller(opts.Store, emit, opts.PollInterval, opts.Clock, opts.Logger)
	if opts.Hub != nil {
		s.member = opts.Hub.Join(opts.ProcessID, opts.EchoWindow, opts.Clock, emit)
	}
	return s
}

func (s *Set) ProcessID() string { return s.processID }

// ChangeFeedState exposes the feed connection state for health reporting.
func (s *Set) ChangeFeedState() State { return s.changefeed.State() }

// Start launches the channel loops. All of them stop together when Close
// is called.
func (s *Set) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.done.Add(3)
	go func() {
		defer s.done.Done()
		s.changefeed.Run(ctx)
	}()
	go func() {
		defer s.done.Done()
		s.poller.Run(ctx)
	}()
	go func() {
		defer s.done.Done()
		s.runLoop(ctx)
	}()
}

func (s *Set) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.member != nil {
		s.member.Leave()
	}
	s.done.Wait()
}

// Notify injects a local event: delivered to this process's listeners at
// once and broadcast to same-device peers, so a completion shows up
// everywhere before the change feed observes the write. While offline the
// broadcast is held in the outbox and replayed on reconnect.
func (s *Set) Notify(e bus.Event) {
	e.Origin = bus.OriginLocal
	if e.ProcessID == "" {
		e.ProcessID = s.processID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.clk.Now()
	}

	s.dispatcher.Publish(e)

	if s.member == nil {
		return
	}
	s.mu.Lock()
	if !s.online {
		s.outbox = append(s.outbox, e)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.member.Post(e)
}

// SetOnline toggles network state. Going offline starts buffering both
// inbound delivery and outbound broadcasts; going online replays the
// outbox in arrival order, then resumes normal delivery.
func (s *Set) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	var pending []bus.Event
	if online {
		pending = s.outbox
		s.outbox = nil
	}
	s.mu.Unlock()

	if !online {
		s.dispatcher.SetOnline(false)
		return
	}

	if s.member != nil {
		for _, e := range pending {
			s.member.Post(e)
		}
	}
	s.dispatcher.SetOnline(true)
	if len(pending) > 0 {
		s.logger.Printf("feed: replayed %d queued notifications after reconnect", len(pending))
	}
}

// DropChangeFeed simulates a lost backend connection; the feed reconnects
// and the poller covers the gap. Used by tests and ops tooling.
func (s *Set) DropChangeFeed() { s.changefeed.Drop() }

// PollNow forces an immediate poll sweep (manual refresh path).
func (s *Set) PollNow(ctx context.Context) { s.poller.Poll(ctx) }

func (s *Set) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.events:
			s.dispatcher.Publish(e)
		}
	}
}
