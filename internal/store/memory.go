package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chorekeep/internal/model"
)

type genKey struct {
	template model.TemplateID
	owner    model.UserID
	date     model.Date
}

// MemoryStore keeps everything in maps. Dev and test use.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[model.TemplateID]model.Template
	instances map[model.InstanceID]model.Instance
	generated map[genKey]model.InstanceID // uniqueness index for template-born instances

	watchMu  sync.Mutex
	watchers map[int]func(Change)
	nextW    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: map[model.TemplateID]model.Template{},
		instances: map[model.InstanceID]model.Instance{},
		generated: map[genKey]model.InstanceID{},
		watchers:  map[int]func(Change){},
	}
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func (s *MemoryStore) CreateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	_ = ctx

	now := time.Now()
	t.ID = model.TemplateID(newID("tpl"))
	t.CreatedAt = now
	t.UpdatedAt = now

	s.mu.Lock()
	s.templates[t.ID] = t
	s.mu.Unlock()

	s.notify(Change{Table: TableTemplates, Op: OpInsert, EntityID: string(t.ID), Payload: t, At: now})
	return t, nil
}

func (s *MemoryStore) GetTemplate(ctx context.Context, id model.TemplateID) (model.Template, error) {
	_ = ctx

	s.mu.RLock()
	t, ok := s.templates[id]
	s.mu.RUnlock()

	if !ok {
		return model.Template{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) UpdateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	_ = ctx

	s.mu.Lock()
	if _, ok := s.templates[t.ID]; !ok {
		s.mu.Unlock()
		return model.Template{}, ErrNotFound
	}
	t.UpdatedAt = time.Now()
	s.templates[t.ID] = t
	s.mu.Unlock()

	s.notify(Change{Table: TableTemplates, Op: OpUpdate, EntityID: string(t.ID), Payload: t, At: t.UpdatedAt})
	return t, nil
}

func (s *MemoryStore) DeactivateTemplate(ctx context.Context, id model.TemplateID) (model.Template, error) {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return model.Template{}, err
	}
	t.Active = false
	return s.UpdateTemplate(ctx, t)
}

func (s *MemoryStore) DeleteTemplate(ctx context.Context, id model.TemplateID) (time.Time, error) {
	_ = ctx

	s.mu.Lock()
	if _, ok := s.templates[id]; !ok {
		s.mu.Unlock()
		return time.Time{}, ErrNotFound
	}
	delete(s.templates, id)
	s.mu.Unlock()

	at := time.Now()
	s.notify(Change{Table: TableTemplates, Op: OpDelete, EntityID: string(id), At: at})
	return at, nil
}

func (s *MemoryStore) ListActive(ctx context.Context, owner model.UserID) ([]model.Template, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Template, 0)
	for _, t := range s.templates {
		if !t.Active {
			continue
		}
		if t.TargetUser == owner || (t.TargetUser == "" && t.Owner == owner) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateInstance(ctx context.Context, in model.Instance) (model.Instance, error) {
	_ = ctx

	now := time.Now()
	in.ID = model.InstanceID(newID("task"))
	in.CreatedAt = now
	in.UpdatedAt = now

	s.mu.Lock()
	if in.TemplateID != "" {
		k := genKey{template: in.TemplateID, owner: in.Owner, date: in.Date}
		if _, exists := s.generated[k]; exists {
			s.mu.Unlock()
			return model.Instance{}, ErrDuplicate
		}
		s.generated[k] = in.ID
	}
	s.instances[in.ID] = in
	s.mu.Unlock()

	s.notify(Change{Table: TableInstances, Op: OpInsert, EntityID: string(in.ID), Payload: in, At: now})
	return in, nil
}

func (s *MemoryStore) GetInstance(ctx context.Context, id model.InstanceID) (model.Instance, error) {
	_ = ctx

	s.mu.RLock()
	in, ok := s.instances[id]
	s.mu.RUnlock()

	if !ok {
		return model.Instance{}, ErrNotFound
	}
	return in, nil
}

func (s *MemoryStore) UpdateInstance(ctx context.Context, in model.Instance) (model.Instance, error) {
	_ = ctx

	s.mu.Lock()
	if _, ok := s.instances[in.ID]; !ok {
		s.mu.Unlock()
		return model.Instance{}, ErrNotFound
	}
	in.UpdatedAt = time.Now()
	s.instances[in.ID] = in
	s.mu.Unlock()

	s.notify(Change{Table: TableInstances, Op: OpUpdate, EntityID: string(in.ID), Payload: in, At: in.UpdatedAt})
	return in, nil
}

func (s *MemoryStore) DeleteInstance(ctx context.Context, id model.InstanceID) (time.Time, error) {
	_ = ctx

	s.mu.Lock()
	in, ok := s.instances[id]
	if !ok {
		s.mu.Unlock()
		return time.Time{}, ErrNotFound
	}
	delete(s.instances, id)
	if in.TemplateID != "" {
		delete(s.generated, genKey{template: in.TemplateID, owner: in.Owner, date: in.Date})
	}
	s.mu.Unlock()

	at := time.Now()
	s.notify(Change{Table: TableInstances, Op: OpDelete, EntityID: string(id), At: at})
	return at, nil
}

func (s *MemoryStore) ListByOwnerAndDate(ctx context.Context, owner model.UserID, date model.Date) ([]model.Instance, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Instance, 0)
	for _, in := range s.instances {
		if in.Owner == owner && in.Date == date {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListModifiedSince(ctx context.Context, since time.Time) ([]model.Instance, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Instance, 0)
	for _, in := range s.instances {
		if in.UpdatedAt.After(since) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) HasInstancesForTemplate(ctx context.Context, id model.TemplateID) (bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, in := range s.instances {
		if in.TemplateID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Watch(fn func(Change)) (cancel func()) {
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

func (s *MemoryStore) notify(c Change) {
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
