// Package generate turns eligible recurring-task templates into concrete
// instances for a given user and calendar date, at most once per
// (user, date) no matter how many triggers race: the authoritative guard
// is the existence check against the shared instance store, the
// in-process lock only suppresses wasteful duplicate work, and the
// store's uniqueness constraint is the final backstop.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"chorekeep/internal/clock"
	"chorekeep/internal/family"
	"chorekeep/internal/genlock"
	"chorekeep/internal/model"
	"chorekeep/internal/recurrence"
	"chorekeep/internal/store"
)

// DefaultMaxDailyTemplates caps the candidate set per (user, date) as a
// runaway-prevention guard.
const DefaultMaxDailyTemplates = 5

type Coordinator struct {
	Templates store.TemplateStore
	Instances store.InstanceStore
	Users     family.Repo
	Locks     *genlock.Registry
	Clock     clock.Clock
	Logger    *log.Logger

	// MaxDailyTemplates <= 0 means DefaultMaxDailyTemplates.
	MaxDailyTemplates int
}

func (c *Coordinator) max() int {
	if c.MaxDailyTemplates > 0 {
		return c.MaxDailyTemplates
	}
	return DefaultMaxDailyTemplates
}

func (c *Coordinator) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Ensure materializes today's daily tasks for owner and returns how many
// instances it created. It is idempotent and safely re-entrant: repeat or
// concurrent calls for the same (owner, date) are no-ops, and a failed
// lock acquisition is a normal outcome, not an error.
func (c *Coordinator) Ensure(ctx context.Context, owner model.UserID, date model.Date) (int, error) {
	existing, err := c.Instances.ListByOwnerAndDate(ctx, owner, date)
	if err != nil {
		return 0, fmt.Errorf("check existing instances for %s/%s: %w", owner, date, err)
	}
	if hasGeneratedDaily(existing) {
		return 0, nil
	}

	if !c.Locks.Acquire(owner, date) {
		// Another in-process attempt is already generating this key.
		return 0, nil
	}
	defer c.Locks.Release(owner, date)

	// A racing attempt may have generated between the first check and the
	// lock; the store is the authority, so look again.
	existing, err = c.Instances.ListByOwnerAndDate(ctx, owner, date)
	if err != nil {
		return 0, fmt.Errorf("re-check existing instances for %s/%s: %w", owner, date, err)
	}
	if hasGeneratedDaily(existing) {
		return 0, nil
	}
	have := map[model.TemplateID]bool{}
	for _, in := range existing {
		if in.TemplateID != "" {
			have[in.TemplateID] = true
		}
	}

	templates, err := c.Templates.ListActive(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("list active templates for %s: %w", owner, err)
	}

	daily := make([]model.Template, 0, len(templates))
	for _, tpl := range templates {
		if tpl.Kind == model.KindDaily {
			daily = append(daily, tpl)
		}
	}
	if len(daily) > c.max() {
		c.logger().Printf("generate: capping %d daily templates to %d for owner=%s", len(daily), c.max(), owner)
		daily = daily[:c.max()]
	}

	day, err := date.Time()
	if err != nil {
		return 0, err
	}

	created := 0
	for _, tpl := range daily {
		if have[tpl.ID] || !recurrence.ShouldGenerate(day, tpl.RecurrenceRule) {
			continue
		}
		_, err := c.Instances.CreateInstance(ctx, model.Instance{
			TemplateID: tpl.ID,
			Owner:      owner,
			Date:       date,
			Title:      tpl.Title,
			Reward:     tpl.Reward,
			Category:   tpl.Category,
			Kind:       model.KindDaily,
			Completed:  false,
		})
		if errors.Is(err, store.ErrDuplicate) {
			// Another process won the race for this template. Fine.
			c.logger().Printf("generate: instance already exists template=%s owner=%s date=%s", tpl.ID, owner, date)
			continue
		}
		if err != nil {
			// Partial success is acceptable; the next Ensure call picks
			// up whatever is still missing.
			c.logger().Printf("generate: create instance template=%s owner=%s date=%s: %v", tpl.ID, owner, date, err)
			continue
		}
		created++
	}
	return created, nil
}

// EnsureForFamily runs Ensure for every user the caller may generate for
// and returns the aggregate count. One member's failure is logged and
// does not stop the others.
func (c *Coordinator) EnsureForFamily(ctx context.Context, caller model.UserID, date model.Date) (int, error) {
	scope, err := family.GenerationScope(ctx, c.Users, caller)
	if err != nil {
		return 0, fmt.Errorf("resolve generation scope for %s: %w", caller, err)
	}

	total := 0
	for _, u := range scope {
		n, err := c.Ensure(ctx, u.ID, date)
		if err != nil {
			c.logger().Printf("generate: ensure owner=%s date=%s: %v", u.ID, date, err)
			continue
		}
		total += n
	}
	return total, nil
}

// EnsureToday is the login-hook entry point.
func (c *Coordinator) EnsureToday(ctx context.Context, caller model.UserID) (int, error) {
	return c.EnsureForFamily(ctx, caller, model.DateOf(clock.OrReal(c.Clock).Now()))
}

func hasGeneratedDaily(instances []model.Instance) bool {
	for _, in := range instances {
		if in.Kind == model.KindDaily && in.TemplateID != "" {
			return true
		}
	}
	return false
}
