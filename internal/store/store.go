// Package store holds the persistence contracts the generation and sync
// engine is written against, plus the in-memory and SQLite implementations.
// The instance table is the single source of truth shared across processes;
// everything else in the engine is advisory.
package store

import (
	"context"
	"errors"
	"time"

	"chorekeep/internal/model"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicate reports a violation of the (template, owner, date)
	// uniqueness constraint. Callers racing on generation treat it as a
	// benign "already exists" outcome.
	ErrDuplicate = errors.New("instance already exists for template and date")
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

const (
	TableInstances = "instances"
	TableTemplates = "templates"
)

// Change is one row-level mutation observed on the store, the raw input to
// the change-feed sync channel.
type Change struct {
	Table    string
	Op       Op
	EntityID string
	Payload  any // row after the change; nil for deletes
	At       time.Time
}

type TemplateStore interface {
	CreateTemplate(ctx context.Context, t model.Template) (model.Template, error)
	GetTemplate(ctx context.Context, id model.TemplateID) (model.Template, error)
	UpdateTemplate(ctx context.Context, t model.Template) (model.Template, error)
	// DeactivateTemplate soft-deletes: the template stops generating but
	// stays queryable so existing instances keep their referential history.
	// Returns the updated row.
	DeactivateTemplate(ctx context.Context, id model.TemplateID) (model.Template, error)
	// DeleteTemplate returns the deletion timestamp, which is also the
	// watch Change.At for this mutation. Callers publishing their own
	// notification must reuse it so both carry one logical timestamp.
	DeleteTemplate(ctx context.Context, id model.TemplateID) (time.Time, error)
	// ListActive returns active templates that generate for owner: templates
	// explicitly targeted at owner, plus owner-authored templates with no
	// target.
	ListActive(ctx context.Context, owner model.UserID) ([]model.Template, error)
}

type InstanceStore interface {
	// CreateInstance fails with ErrDuplicate when a template-generated
	// instance already exists for the same (template, owner, date).
	CreateInstance(ctx context.Context, in model.Instance) (model.Instance, error)
	GetInstance(ctx context.Context, id model.InstanceID) (model.Instance, error)
	UpdateInstance(ctx context.Context, in model.Instance) (model.Instance, error)
	// DeleteInstance returns the deletion timestamp; see DeleteTemplate.
	DeleteInstance(ctx context.Context, id model.InstanceID) (time.Time, error)
	ListByOwnerAndDate(ctx context.Context, owner model.UserID, date model.Date) ([]model.Instance, error)
	// ListModifiedSince powers the polling fallback.
	ListModifiedSince(ctx context.Context, since time.Time) ([]model.Instance, error)
	HasInstancesForTemplate(ctx context.Context, id model.TemplateID) (bool, error)
}

// Watcher is the change-feed provider contract. Watch registers fn for
// every subsequent change; the returned cancel detaches it.
type Watcher interface {
	Watch(fn func(Change)) (cancel func())
}

type Store interface {
	TemplateStore
	InstanceStore
	Watcher
}
