package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"chorekeep/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS templates (
	id              TEXT PRIMARY KEY,
	owner           TEXT NOT NULL,
	title           TEXT NOT NULL,
	reward          INTEGER NOT NULL DEFAULT 0,
	category        TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL,
	recurrence_rule TEXT NOT NULL DEFAULT 'daily',
	active          INTEGER NOT NULL DEFAULT 1,
	target_user     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS instances (
	id           TEXT PRIMARY KEY,
	template_id  TEXT NOT NULL DEFAULT '',
	owner        TEXT NOT NULL,
	date         TEXT NOT NULL,
	title        TEXT NOT NULL,
	reward       INTEGER NOT NULL DEFAULT 0,
	category     TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL,
	completed    INTEGER NOT NULL DEFAULT 0,
	completed_at TIMESTAMP,
	settled      INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

-- Final backstop against cross-process generation races.
CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_generation
	ON instances(template_id, owner, date) WHERE template_id != '';

CREATE INDEX IF NOT EXISTS idx_instances_owner_date ON instances(owner, date);
CREATE INDEX IF NOT EXISTS idx_instances_updated_at ON instances(updated_at);
CREATE INDEX IF NOT EXISTS idx_templates_target ON templates(target_user, active);
`

// SQLiteStore is the durable store shared by every process of the household.
type SQLiteStore struct {
	db *sql.DB

	watchMu  sync.Mutex
	watchers map[int]func(Change)
	nextW    int
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Serialize writers; SQLite allows one at a time anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		watchers: map[int]func(Change){},
	}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the handle for ops tooling (backup checkpoints).
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *SQLiteStore) CreateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	now := time.Now()
	t.ID = model.TemplateID(newID("tpl"))
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, owner, title, reward, category, kind, recurrence_rule, active, target_user, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Owner, t.Title, t.Reward, t.Category, t.Kind, t.RecurrenceRule, t.Active, t.TargetUser, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return model.Template{}, fmt.Errorf("insert template: %w", err)
	}

	s.notify(Change{Table: TableTemplates, Op: OpInsert, EntityID: string(t.ID), Payload: t, At: now})
	return t, nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id model.TemplateID) (model.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, title, reward, category, kind, recurrence_rule, active, target_user, created_at, updated_at
		FROM templates WHERE id = ?`, id)
	return scanTemplate(row)
}

func (s *SQLiteStore) UpdateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	t.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET owner = ?, title = ?, reward = ?, category = ?, kind = ?, recurrence_rule = ?, active = ?, target_user = ?, updated_at = ?
		WHERE id = ?`,
		t.Owner, t.Title, t.Reward, t.Category, t.Kind, t.RecurrenceRule, t.Active, t.TargetUser, t.UpdatedAt, t.ID)
	if err != nil {
		return model.Template{}, fmt.Errorf("update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Template{}, ErrNotFound
	}

	s.notify(Change{Table: TableTemplates, Op: OpUpdate, EntityID: string(t.ID), Payload: t, At: t.UpdatedAt})
	return t, nil
}

func (s *SQLiteStore) DeactivateTemplate(ctx context.Context, id model.TemplateID) (model.Template, error) {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return model.Template{}, err
	}
	t.Active = false
	return s.UpdateTemplate(ctx, t)
}

func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id model.TemplateID) (time.Time, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return time.Time{}, ErrNotFound
	}

	at := time.Now()
	s.notify(Change{Table: TableTemplates, Op: OpDelete, EntityID: string(id), At: at})
	return at, nil
}

func (s *SQLiteStore) ListActive(ctx context.Context, owner model.UserID) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, title, reward, category, kind, recurrence_rule, active, target_user, created_at, updated_at
		FROM templates
		WHERE active = 1 AND (target_user = ? OR (target_user = '' AND owner = ?))
		ORDER BY created_at`, owner, owner)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	defer rows.Close()

	out := make([]model.Template, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateInstance(ctx context.Context, in model.Instance) (model.Instance, error) {
	now := time.Now()
	in.ID = model.InstanceID(newID("task"))
	in.CreatedAt = now
	in.UpdatedAt = now

	var completedAt any
	if in.CompletedAt != nil {
		completedAt = *in.CompletedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, template_id, owner, date, title, reward, category, kind, completed, completed_at, settled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.TemplateID, in.Owner, in.Date, in.Title, in.Reward, in.Category, in.Kind, in.Completed, completedAt, in.Settled, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Instance{}, ErrDuplicate
		}
		return model.Instance{}, fmt.Errorf("insert instance: %w", err)
	}

	s.notify(Change{Table: TableInstances, Op: OpInsert, EntityID: string(in.ID), Payload: in, At: now})
	return in, nil
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id model.InstanceID) (model.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, owner, date, title, reward, category, kind, completed, completed_at, settled, created_at, updated_at
		FROM instances WHERE id = ?`, id)
	return scanInstance(row)
}

func (s *SQLiteStore) UpdateInstance(ctx context.Context, in model.Instance) (model.Instance, error) {
	in.UpdatedAt = time.Now()

	var completedAt any
	if in.CompletedAt != nil {
		completedAt = *in.CompletedAt
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET template_id = ?, owner = ?, date = ?, title = ?, reward = ?, category = ?, kind = ?, completed = ?, completed_at = ?, settled = ?, updated_at = ?
		WHERE id = ?`,
		in.TemplateID, in.Owner, in.Date, in.Title, in.Reward, in.Category, in.Kind, in.Completed, completedAt, in.Settled, in.UpdatedAt, in.ID)
	if err != nil {
		return model.Instance{}, fmt.Errorf("update instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Instance{}, ErrNotFound
	}

	s.notify(Change{Table: TableInstances, Op: OpUpdate, EntityID: string(in.ID), Payload: in, At: in.UpdatedAt})
	return in, nil
}

func (s *SQLiteStore) DeleteInstance(ctx context.Context, id model.InstanceID) (time.Time, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("delete instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return time.Time{}, ErrNotFound
	}

	at := time.Now()
	s.notify(Change{Table: TableInstances, Op: OpDelete, EntityID: string(id), At: at})
	return at, nil
}

func (s *SQLiteStore) ListByOwnerAndDate(ctx context.Context, owner model.UserID, date model.Date) ([]model.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, owner, date, title, reward, category, kind, completed, completed_at, settled, created_at, updated_at
		FROM instances WHERE owner = ? AND date = ? ORDER BY created_at`, owner, date)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

func (s *SQLiteStore) ListModifiedSince(ctx context.Context, since time.Time) ([]model.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, owner, date, title, reward, category, kind, completed, completed_at, settled, created_at, updated_at
		FROM instances WHERE updated_at > ? ORDER BY updated_at`, since)
	if err != nil {
		return nil, fmt.Errorf("list modified instances: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

func (s *SQLiteStore) HasInstancesForTemplate(ctx context.Context, id model.TemplateID) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM instances WHERE template_id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("count instances for template: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Watch(fn func(Change)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextW
	s.nextW++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *SQLiteStore) notify(c Change) {
	s.watchMu.Lock()
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (model.Template, error) {
	var t model.Template
	err := row.Scan(&t.ID, &t.Owner, &t.Title, &t.Reward, &t.Category, &t.Kind,
		&t.RecurrenceRule, &t.Active, &t.TargetUser, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Template{}, ErrNotFound
	}
	if err != nil {
		return model.Template{}, fmt.Errorf("scan template: %w", err)
	}
	return t, nil
}

func scanInstance(row rowScanner) (model.Instance, error) {
	var (
		in          model.Instance
		completedAt sql.NullTime
	)
	err := row.Scan(&in.ID, &in.TemplateID, &in.Owner, &in.Date, &in.Title, &in.Reward,
		&in.Category, &in.Kind, &in.Completed, &completedAt, &in.Settled, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Instance{}, ErrNotFound
	}
	if err != nil {
		return model.Instance{}, fmt.Errorf("scan instance: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		in.CompletedAt = &t
	}
	return in, nil
}

func collectInstances(rows *sql.Rows) ([]model.Instance, error) {
	out := make([]model.Instance, 0)
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
