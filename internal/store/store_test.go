package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorekeep/internal/model"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "chorekeep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestCreateInstance_DuplicateGenerationRejected(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := model.Instance{
				TemplateID: "tpl_x", Owner: "u1", Date: "2024-01-01",
				Title: "make bed", Reward: 100, Kind: model.KindDaily,
			}
			_, err := s.CreateInstance(ctx, first)
			require.NoError(t, err)

			_, err = s.CreateInstance(ctx, first)
			assert.ErrorIs(t, err, ErrDuplicate)

			// Same template on another day is fine.
			second := first
			second.Date = "2024-01-02"
			_, err = s.CreateInstance(ctx, second)
			assert.NoError(t, err)

			// Ad-hoc instances (no template) never collide.
			adhoc := model.Instance{Owner: "u1", Date: "2024-01-01", Title: "one-off", Kind: model.KindEvent}
			_, err = s.CreateInstance(ctx, adhoc)
			require.NoError(t, err)
			_, err = s.CreateInstance(ctx, adhoc)
			assert.NoError(t, err)
		})
	}
}

func TestDeleteInstance_FreesGenerationSlot(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			in, err := s.CreateInstance(ctx, model.Instance{
				TemplateID: "tpl_x", Owner: "u1", Date: "2024-01-01", Title: "dishes", Kind: model.KindDaily,
			})
			require.NoError(t, err)
			at, err := s.DeleteInstance(ctx, in.ID)
			require.NoError(t, err)
			assert.False(t, at.IsZero(), "delete reports its timestamp")

			_, err = s.CreateInstance(ctx, model.Instance{
				TemplateID: "tpl_x", Owner: "u1", Date: "2024-01-01", Title: "dishes", Kind: model.KindDaily,
			})
			assert.NoError(t, err, "explicit deletion frees the (template, owner, date) slot")
		})
	}
}

func TestListActive_Visibility(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			mk := func(owner, target model.UserID, active bool, title string) {
				_, err := s.CreateTemplate(ctx, model.Template{
					Owner: owner, TargetUser: target, Active: active,
					Title: title, Kind: model.KindDaily, RecurrenceRule: "daily",
				})
				require.NoError(t, err)
			}

			mk("parent", "", true, "own chores")          // visible to parent only
			mk("parent", "child", true, "child chores")   // targeted at child
			mk("parent", "child", false, "retired chore") // inactive
			mk("child", "", true, "childs own")

			forParent, err := s.ListActive(ctx, "parent")
			require.NoError(t, err)
			forChild, err := s.ListActive(ctx, "child")
			require.NoError(t, err)

			assert.Len(t, forParent, 1)
			assert.Equal(t, "own chores", forParent[0].Title)

			titles := []string{}
			for _, tpl := range forChild {
				titles = append(titles, tpl.Title)
			}
			assert.ElementsMatch(t, []string{"child chores", "childs own"}, titles)
		})
	}
}

func TestDeactivateTemplate_SoftDelete(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			tpl, err := s.CreateTemplate(ctx, model.Template{
				Owner: "u1", Active: true, Title: "water plants", Kind: model.KindDaily,
			})
			require.NoError(t, err)

			deactivated, err := s.DeactivateTemplate(ctx, tpl.ID)
			require.NoError(t, err)
			assert.False(t, deactivated.Active)

			got, err := s.GetTemplate(ctx, tpl.ID)
			require.NoError(t, err, "deactivated template stays queryable")
			assert.False(t, got.Active)

			active, err := s.ListActive(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, active)
		})
	}
}

func TestListModifiedSince(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, err := s.CreateInstance(ctx, model.Instance{Owner: "u1", Date: "2024-01-01", Title: "a", Kind: model.KindDaily})
			require.NoError(t, err)

			mark := a.UpdatedAt

			b, err := s.CreateInstance(ctx, model.Instance{Owner: "u1", Date: "2024-01-01", Title: "b", Kind: model.KindDaily})
			require.NoError(t, err)
			b.Completed = true
			_, err = s.UpdateInstance(ctx, b)
			require.NoError(t, err)

			mod, err := s.ListModifiedSince(ctx, mark)
			require.NoError(t, err)
			for _, in := range mod {
				assert.NotEqual(t, a.ID, in.ID, "unmodified row must not surface")
			}
			require.NotEmpty(t, mod)
			assert.Equal(t, b.ID, mod[len(mod)-1].ID)
		})
	}
}

func TestWatch_DeliversChangesUntilCanceled(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var got []Change
			cancel := s.Watch(func(c Change) { got = append(got, c) })

			in, err := s.CreateInstance(ctx, model.Instance{Owner: "u1", Date: "2024-01-01", Title: "sweep", Kind: model.KindDaily})
			require.NoError(t, err)

			require.Len(t, got, 1)
			assert.Equal(t, TableInstances, got[0].Table)
			assert.Equal(t, OpInsert, got[0].Op)
			assert.Equal(t, string(in.ID), got[0].EntityID)

			cancel()
			_, err = s.DeleteInstance(ctx, in.ID)
			require.NoError(t, err)
			assert.Len(t, got, 1, "no delivery after cancel")
		})
	}
}

func TestGetInstance_NotFound(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetInstance(context.Background(), "task_missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chorekeep.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)

	in, err := s.CreateInstance(context.Background(), model.Instance{
		TemplateID: "tpl_x", Owner: "u1", Date: "2024-01-01", Title: "laundry", Kind: model.KindDaily,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetInstance(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, "laundry", got.Title)
	assert.WithinDuration(t, in.CreatedAt, got.CreatedAt, time.Second)

	_, err = s2.CreateInstance(context.Background(), model.Instance{
		TemplateID: "tpl_x", Owner: "u1", Date: "2024-01-01", Title: "laundry", Kind: model.KindDaily,
	})
	assert.ErrorIs(t, err, ErrDuplicate, "uniqueness constraint holds across processes")
}
