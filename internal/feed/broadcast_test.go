package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chorekeep/internal/bus"
	"chorekeep/internal/clock"
)

func TestHub_DeliversToOtherMembers(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	hub := NewHub()

	var gotA, gotB []bus.Event
	a := hub.Join("proc-a", 100*time.Millisecond, fake, func(e bus.Event) { gotA = append(gotA, e) })
	hub.Join("proc-b", 100*time.Millisecond, fake, func(e bus.Event) { gotB = append(gotB, e) })

	a.Post(bus.Event{Kind: bus.KindTaskCreated, EntityID: "task_1", Timestamp: fake.Now(), ProcessID: "proc-a"})

	assert.Empty(t, gotA, "fresh self-originated event is an echo")
	assert.Len(t, gotB, 1)
}

func TestHub_EchoWindowExpires(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	hub := NewHub()

	var got []bus.Event
	a := hub.Join("proc-a", 100*time.Millisecond, fake, func(e bus.Event) { got = append(got, e) })

	stale := bus.Event{Kind: bus.KindTaskUpdated, EntityID: "task_1", Timestamp: fake.Now(), ProcessID: "proc-a"}
	fake.Advance(200 * time.Millisecond)
	a.Post(stale)

	assert.Len(t, got, 1, "old self-originated events pass through")
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	hub := NewHub()

	var got []bus.Event
	a := hub.Join("proc-a", 0, fake, nil)
	b := hub.Join("proc-b", 0, fake, func(e bus.Event) { got = append(got, e) })

	b.Leave()
	a.Post(bus.Event{Kind: bus.KindTaskDeleted, EntityID: "task_1", Timestamp: fake.Now(), ProcessID: "proc-a"})

	assert.Empty(t, got)
}
