// Package family tracks household accounts and parent/child links. A
// parent generates tasks for itself and every linked child; a child only
// for itself.
package family

import (
	"context"
	"errors"
	"sort"
	"sync"

	"chorekeep/internal/model"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrNotParent = errors.New("user is not a parent account")
)

type Repo interface {
	Get(ctx context.Context, id model.UserID) (model.User, error)
	// Children lists users linked under the given parent.
	Children(ctx context.Context, parent model.UserID) ([]model.User, error)
}

type MemoryRepo struct {
	mu    sync.RWMutex
	users map[model.UserID]model.User
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{users: map[model.UserID]model.User{}}
}

func (r *MemoryRepo) Put(u model.User) {
	r.mu.Lock()
	r.users[u.ID] = u
	r.mu.Unlock()
}

func (r *MemoryRepo) Get(ctx context.Context, id model.UserID) (model.User, error) {
	_ = ctx

	r.mu.RLock()
	u, ok := r.users[id]
	r.mu.RUnlock()

	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepo) Children(ctx context.Context, parent model.UserID) ([]model.User, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.User, 0)
	for _, u := range r.users {
		if u.ParentID == parent {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GenerationScope resolves the set of users the caller may generate for:
// the caller itself plus, for parent accounts, every linked child.
func GenerationScope(ctx context.Context, repo Repo, caller model.UserID) ([]model.User, error) {
	u, err := repo.Get(ctx, caller)
	if err != nil {
		return nil, err
	}
	scope := []model.User{u}
	if u.Role != model.RoleParent {
		return scope, nil
	}
	children, err := repo.Children(ctx, caller)
	if err != nil {
		return nil, err
	}
	return append(scope, children...), nil
}
