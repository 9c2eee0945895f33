package feed

import (
	"sync"
	"time"

	"chorekeep/internal/bus"
	"chorekeep/internal/clock"
)

const DefaultEchoWindow = 100 * time.Millisecond

// Hub is the same-device broadcast channel: every execution context
// ("tab") on a device joins the hub and sees the others' posts. There is
// no connection state; membership is the only state.
type Hub struct {
	mu      sync.Mutex
	members map[int]*Member
	nextID  int
}

func NewHub() *Hub {
	return &Hub{members: map[int]*Member{}}
}

type Member struct {
	hub        *Hub
	id         int
	processID  string
	echoWindow time.Duration
	clk        clock.Clock
	handler    func(bus.Event)
}

// Join registers a handler for events posted by other members. Events
// carrying the member's own process ID are discarded while they are
// younger than the echo window, so a post does not bounce straight back.
func (h *Hub) Join(processID string, echoWindow time.Duration, clk clock.Clock, handler func(bus.Event)) *Member {
	if echoWindow <= 0 {
		echoWindow = DefaultEchoWindow
	}
	clk = clock.OrReal(clk)

	h.mu.Lock()
	defer h.mu.Unlock()

	m := &Member{
		hub:        h,
		id:         h.nextID,
		processID:  processID,
		echoWindow: echoWindow,
		clk:        clk,
		handler:    handler,
	}
	h.nextID++
	h.members[m.id] = m
	return m
}

// Post delivers e to every hub member, including the poster; the echo
// window filters the poster's own copy.
func (m *Member) Post(e bus.Event) {
	m.hub.mu.Lock()
	members := make([]*Member, 0, len(m.hub.members))
	for _, other := range m.hub.members {
		members = append(members, other)
	}
	m.hub.mu.Unlock()

	for _, other := range members {
		other.receive(e)
	}
}

func (m *Member) Leave() {
	m.hub.mu.Lock()
	delete(m.hub.members, m.id)
	m.hub.mu.Unlock()
}

func (m *Member) receive(e bus.Event) {
	if m.handler == nil {
		return
	}
	if e.ProcessID == m.processID && m.clk.Now().Sub(e.Timestamp) < m.echoWindow {
		return
	}
	m.handler(e)
}
