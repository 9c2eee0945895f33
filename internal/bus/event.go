package bus

import "time"

type Kind string

const (
	KindTaskCreated       Kind = "task-created"
	KindTaskUpdated       Kind = "task-updated"
	KindTaskDeleted       Kind = "task-deleted"
	KindTemplateUpdated   Kind = "template-updated"
	KindSettlementUpdated Kind = "settlement-updated"
)

type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
	OriginPolled Origin = "polled"
)

// Event is a normalized notification of a state change, regardless of the
// channel that surfaced it. Events with the same (EntityID, Timestamp) are
// one logical event no matter how many channels deliver them.
type Event struct {
	Kind      Kind      `json:"kind"`
	EntityID  string    `json:"entityId"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Origin    Origin    `json:"origin"`
	ProcessID string    `json:"processId,omitempty"`
}

func (e Event) dedupeKey() string {
	return e.EntityID + "@" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}
