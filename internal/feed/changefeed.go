package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"chorekeep/internal/bus"
	"chorekeep/internal/store"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const defaultReconnectDelay = time.Second

// ChangeFeed subscribes to the store's change notifications and turns each
// row mutation into a remote-origin sync event. When the subscription
// drops it reconnects on its own; the poller covers the gap.
type ChangeFeed struct {
	src     store.Watcher
	emit    func(bus.Event)
	logger  *log.Logger
	backoff time.Duration

	mu      sync.Mutex
	state   State
	dropped chan struct{}
}

func NewChangeFeed(src store.Watcher, emit func(bus.Event), logger *log.Logger) *ChangeFeed {
	if logger == nil {
		logger = log.Default()
	}
	return &ChangeFeed{
		src:     src,
		emit:    emit,
		logger:  logger,
		backoff: defaultReconnectDelay,
		state:   StateDisconnected,
	}
}

func (f *ChangeFeed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Drop severs the current subscription, as a lost backend connection
// would. Run notices and reconnects.
func (f *ChangeFeed) Drop() {
	f.mu.Lock()
	ch := f.dropped
	f.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Run keeps the subscription alive until ctx is canceled.
func (f *ChangeFeed) Run(ctx context.Context) {
	for {
		f.setState(StateConnecting)

		dropped := make(chan struct{}, 1)
		f.mu.Lock()
		f.dropped = dropped
		f.mu.Unlock()

		cancel := f.src.Watch(func(c store.Change) {
			f.emit(translateChange(c))
		})
		f.setState(StateConnected)

		select {
		case <-ctx.Done():
			cancel()
			f.setState(StateDisconnected)
			return
		case <-dropped:
			cancel()
			f.setState(StateDisconnected)
			f.logger.Printf("changefeed: subscription dropped, reconnecting in %s", f.backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.backoff):
		}
	}
}

func (f *ChangeFeed) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func translateChange(c store.Change) bus.Event {
	kind := bus.KindTaskUpdated
	switch c.Table {
	case store.TableTemplates:
		kind = bus.KindTemplateUpdated
	case store.TableInstances:
		switch c.Op {
		case store.OpInsert:
			kind = bus.KindTaskCreated
		case store.OpDelete:
			kind = bus.KindTaskDeleted
		}
	}
	return bus.Event{
		Kind:      kind,
		EntityID:  c.EntityID,
		Payload:   c.Payload,
		Timestamp: c.At,
		Origin:    bus.OriginRemote,
	}
}
