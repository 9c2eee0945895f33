package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorekeep/internal/clock"
	"chorekeep/internal/family"
	"chorekeep/internal/genlock"
	"chorekeep/internal/model"
	"chorekeep/internal/store"
)

type fixture struct {
	store *store.MemoryStore
	users *family.MemoryRepo
	coord *Coordinator
	clk   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	users := family.NewMemoryRepo()
	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local))
	logger := log.New(io.Discard, "", 0)

	users.Put(model.User{ID: "mom", Name: "Mom", Role: model.RoleParent})
	users.Put(model.User{ID: "kid", Name: "Kid", Role: model.RoleChild, ParentID: "mom"})

	return &fixture{
		store: st,
		users: users,
		clk:   fake,
		coord: &Coordinator{
			Templates: st,
			Instances: st,
			Users:     users,
			Locks:     genlock.NewRegistry(5*time.Minute, fake, logger),
			Clock:     fake,
			Logger:    logger,
		},
	}
}

func (f *fixture) addTemplate(t *testing.T, owner, target model.UserID, title, rule string) model.Template {
	t.Helper()
	tpl, err := f.store.CreateTemplate(context.Background(), model.Template{
		Owner: owner, TargetUser: target, Title: title, Reward: 100,
		Category: "home", Kind: model.KindDaily, RecurrenceRule: rule, Active: true,
	})
	require.NoError(t, err)
	return tpl
}

func TestEnsure_CreatesInstancesFromTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTemplate(t, "kid", "", "make bed", "daily")
	f.addTemplate(t, "mom", "kid", "feed cat", "daily")

	n, err := f.coord.Ensure(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	instances, err := f.store.ListByOwnerAndDate(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	for _, in := range instances {
		assert.NotEmpty(t, in.TemplateID)
		assert.False(t, in.Completed)
		assert.Equal(t, 100, in.Reward)
		assert.Equal(t, model.KindDaily, in.Kind)
	}
}

func TestEnsure_SecondCallIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTemplate(t, "kid", "", "make bed", "daily")

	n, err := f.coord.Ensure(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for i := 0; i < 3; i++ {
		n, err = f.coord.Ensure(ctx, "kid", "2024-01-01")
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	instances, _ := f.store.ListByOwnerAndDate(ctx, "kid", "2024-01-01")
	assert.Len(t, instances, 1)
}

func TestEnsure_WeeklyMonday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTemplate(t, "kid", "", "piano practice", "weekly:mon")

	// 2024-01-01 is a Monday.
	n, err := f.coord.Ensure(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Tuesday produces nothing.
	n, err = f.coord.Ensure(ctx, "kid", "2024-01-02")
	require.NoError(t, err)
	assert.Zero(t, n)

	instances, _ := f.store.ListByOwnerAndDate(ctx, "kid", "2024-01-02")
	assert.Empty(t, instances)
}

func TestEnsure_ConcurrentCallsCreateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tpl := f.addTemplate(t, "kid", "", "make bed", "weekly:mon")

	const callers = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.coord.Ensure(ctx, "kid", "2024-01-01")
			if err != nil {
				t.Errorf("ensure: %v", err)
				return
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total, "exactly one caller creates")

	instances, _ := f.store.ListByOwnerAndDate(ctx, "kid", "2024-01-01")
	require.Len(t, instances, 1)
	assert.Equal(t, tpl.ID, instances[0].TemplateID)
}

func TestEnsure_LockHeldElsewhereReturnsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTemplate(t, "kid", "", "make bed", "daily")
	require.True(t, f.coord.Locks.Acquire("kid", "2024-01-01"))

	n, err := f.coord.Ensure(ctx, "kid", "2024-01-01")
	require.NoError(t, err, "busy lock is not an error")
	assert.Zero(t, n)

	// Generation proceeds once the holder releases.
	f.coord.Locks.Release("kid", "2024-01-01")
	n, err = f.coord.Ensure(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnsure_LockReleasedOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Invalid date makes Ensure fail after the lock is taken.
	_, err := f.coord.Ensure(ctx, "kid", "not-a-date")
	require.Error(t, err)
	assert.False(t, f.coord.Locks.IsHeld("kid", "not-a-date"))
}

func TestEnsure_CapsTemplateCandidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		f.addTemplate(t, "kid", "", fmt.Sprintf("chore %d", i), "daily")
	}

	n, err := f.coord.Ensure(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDailyTemplates, n)
}

func TestEnsure_InactiveAndEventTemplatesSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tpl := f.addTemplate(t, "kid", "", "retired", "daily")
	_, err := f.store.DeactivateTemplate(ctx, tpl.ID)
	require.NoError(t, err)

	_, err = f.store.CreateTemplate(ctx, model.Template{
		Owner: "kid", Title: "birthday party", Kind: model.KindEvent, Active: true, RecurrenceRule: "daily",
	})
	require.NoError(t, err)

	n, err := f.coord.Ensure(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// flakyStore fails CreateInstance for one template to exercise partial
// success.
type flakyStore struct {
	*store.MemoryStore
	failTemplate model.TemplateID
}

func (s *flakyStore) CreateInstance(ctx context.Context, in model.Instance) (model.Instance, error) {
	if in.TemplateID == s.failTemplate {
		return model.Instance{}, errors.New("disk full")
	}
	return s.MemoryStore.CreateInstance(ctx, in)
}

func TestEnsure_PartialFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := f.addTemplate(t, "kid", "", "cursed chore", "daily")
	f.addTemplate(t, "kid", "", "fine chore", "daily")

	f.coord.Instances = &flakyStore{MemoryStore: f.store, failTemplate: bad.ID}

	n, err := f.coord.Ensure(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "surviving template still materializes")

	// The partial run satisfies the existence check, so the next call is
	// a no-op rather than a retry storm.
	f.coord.Instances = f.store
	n, err = f.coord.Ensure(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// brokenStore fails reads to exercise the abort path.
type brokenStore struct {
	*store.MemoryStore
}

func (s *brokenStore) ListByOwnerAndDate(context.Context, model.UserID, model.Date) ([]model.Instance, error) {
	return nil, errors.New("connection reset")
}

func TestEnsure_ExistenceCheckFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.coord.Instances = &brokenStore{MemoryStore: f.store}
	f.addTemplate(t, "kid", "", "make bed", "daily")

	n, err := f.coord.Ensure(context.Background(), "kid", "2024-01-01")
	require.Error(t, err)
	assert.Zero(t, n)

	instances, _ := f.store.ListByOwnerAndDate(context.Background(), "kid", "2024-01-01")
	assert.Empty(t, instances, "no partial writes on aborted call")
}

func TestEnsureForFamily_ParentCoversChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTemplate(t, "mom", "", "plan dinner", "daily")
	f.addTemplate(t, "mom", "kid", "homework", "daily")

	n, err := f.coord.EnsureForFamily(ctx, "mom", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	momTasks, _ := f.store.ListByOwnerAndDate(ctx, "mom", "2024-01-01")
	kidTasks, _ := f.store.ListByOwnerAndDate(ctx, "kid", "2024-01-01")
	assert.Len(t, momTasks, 1)
	assert.Len(t, kidTasks, 1)
}

func TestEnsureForFamily_ChildOnlySelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTemplate(t, "mom", "", "plan dinner", "daily")
	f.addTemplate(t, "mom", "kid", "homework", "daily")

	n, err := f.coord.EnsureForFamily(ctx, "kid", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	momTasks, _ := f.store.ListByOwnerAndDate(ctx, "mom", "2024-01-01")
	assert.Empty(t, momTasks, "child must not generate for the parent")
}

func TestEnsureForFamily_OneMemberFailureIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTemplate(t, "mom", "", "plan dinner", "daily")
	cursed := f.addTemplate(t, "mom", "kid", "homework", "daily")
	f.coord.Instances = &flakyStore{MemoryStore: f.store, failTemplate: cursed.ID}

	n, err := f.coord.EnsureForFamily(ctx, "mom", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "mom's generation survives kid's failure")
}

func TestEnsureToday_UsesInjectedClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTemplate(t, "kid", "", "make bed", "daily")

	n, err := f.coord.EnsureToday(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	instances, _ := f.store.ListByOwnerAndDate(ctx, "kid", model.DateOf(f.clk.Now()))
	assert.Len(t, instances, 1)
}
