package model

import (
	"fmt"
	"time"
)

type TemplateID string
type InstanceID string
type UserID string

const DateLayout = "2006-01-02"

// Date is a calendar day in YYYY-MM-DD form. String comparison orders
// dates correctly, which the stores rely on.
type Date string

func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns midnight local time on the date.
func (d Date) Time() (time.Time, error) {
	return time.ParseInLocation(DateLayout, string(d), time.Local)
}

func (d Date) String() string { return string(d) }

type TaskKind string

const (
	KindDaily TaskKind = "daily"
	KindEvent TaskKind = "event"
)

// Template is a reusable recurring-task definition. It is owned by the
// creating account and soft-deactivated, never destroyed, once instances
// reference it.
type Template struct {
	ID             TemplateID `json:"id"`
	Owner          UserID     `json:"owner"`
	Title          string     `json:"title"`
	Reward         int        `json:"reward"`
	Category       string     `json:"category"`
	Kind           TaskKind   `json:"kind"`
	RecurrenceRule string     `json:"recurrenceRule"`
	Active         bool       `json:"active"`
	TargetUser     UserID     `json:"targetUser,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Instance is one concrete, datable, completable occurrence of a task.
// Once created it is independent of its template.
type Instance struct {
	ID          InstanceID `json:"id"`
	TemplateID  TemplateID `json:"templateId,omitempty"` // empty for ad-hoc tasks
	Owner       UserID     `json:"owner"`
	Date        Date       `json:"date"`
	Title       string     `json:"title"`
	Reward      int        `json:"reward"`
	Category    string     `json:"category"`
	Kind        TaskKind   `json:"kind"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Settled     bool       `json:"settled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

type User struct {
	ID       UserID `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Role     Role   `json:"role" yaml:"role"`
	ParentID UserID `json:"parentId,omitempty" yaml:"parent_id"`
}
