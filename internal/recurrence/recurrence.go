// Package recurrence decides whether a template materializes on a given
// calendar date. It is pure: no state, no I/O.
package recurrence

import (
	"strings"
	"time"
)

const (
	RuleDaily    = "daily"
	RuleWeekdays = "weekdays"
	RuleWeekends = "weekends"

	weeklyPrefix = "weekly:"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ShouldGenerate reports whether a template with the given rule produces an
// instance on date. Unknown or empty rules behave as daily, so a template
// with a malformed rule still shows up rather than silently vanishing.
func ShouldGenerate(date time.Time, rule string) bool {
	switch r := strings.ToLower(strings.TrimSpace(rule)); {
	case r == "" || r == RuleDaily:
		return true
	case r == RuleWeekdays:
		wd := date.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	case r == RuleWeekends:
		wd := date.Weekday()
		return wd == time.Saturday || wd == time.Sunday
	case strings.HasPrefix(r, weeklyPrefix):
		want, ok := weekdayNames[strings.TrimPrefix(r, weeklyPrefix)]
		if !ok {
			return true
		}
		return date.Weekday() == want
	default:
		return true
	}
}

// Valid reports whether rule is one of the supported forms. Used by the
// template API to reject typos at creation time; the evaluator itself stays
// total and forgiving.
func Valid(rule string) bool {
	r := strings.ToLower(strings.TrimSpace(rule))
	if r == "" || r == RuleDaily || r == RuleWeekdays || r == RuleWeekends {
		return true
	}
	if strings.HasPrefix(r, weeklyPrefix) {
		_, ok := weekdayNames[strings.TrimPrefix(r, weeklyPrefix)]
		return ok
	}
	return false
}
