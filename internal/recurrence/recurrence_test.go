package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestShouldGenerate(t *testing.T) {
	mon := day(2024, time.January, 1) // Monday
	tue := day(2024, time.January, 2)
	fri := day(2024, time.January, 5)
	sat := day(2024, time.January, 6)
	sun := day(2024, time.January, 7)

	cases := []struct {
		name string
		date time.Time
		rule string
		want bool
	}{
		{"daily on monday", mon, "daily", true},
		{"daily on saturday", sat, "daily", true},
		{"empty rule defaults to daily", sun, "", true},
		{"unknown rule defaults to daily", tue, "fortnightly", true},

		{"weekdays on monday", mon, "weekdays", true},
		{"weekdays on friday", fri, "weekdays", true},
		{"weekdays on saturday", sat, "weekdays", false},
		{"weekdays on sunday", sun, "weekdays", false},

		{"weekends on saturday", sat, "weekends", true},
		{"weekends on sunday", sun, "weekends", true},
		{"weekends on monday", mon, "weekends", false},

		{"weekly:mon on monday", mon, "weekly:mon", true},
		{"weekly:mon on tuesday", tue, "weekly:mon", false},
		{"weekly:sun on sunday", sun, "weekly:sun", true},
		{"weekly:sun on saturday", sat, "weekly:sun", false},
		{"weekly rule is case-insensitive", mon, "Weekly:Mon", true},
		{"weekly with unknown day defaults to daily", tue, "weekly:xyz", true},
		{"rule with surrounding spaces", fri, "  weekdays ", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldGenerate(tc.date, tc.rule))
		})
	}
}

func TestShouldGenerate_WeekdayFollowsLocation(t *testing.T) {
	// 2024-01-01 23:00 in Honolulu is already 2024-01-02 in UTC. The
	// evaluator must key off the date's own wall-clock weekday, not UTC.
	hnl, err := time.LoadLocation("Pacific/Honolulu")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	lateMonday := time.Date(2024, time.January, 1, 23, 0, 0, 0, hnl)

	assert.True(t, ShouldGenerate(lateMonday, "weekly:mon"))
	assert.False(t, ShouldGenerate(lateMonday, "weekly:tue"))
}

func TestValid(t *testing.T) {
	for _, rule := range []string{"", "daily", "weekdays", "weekends", "weekly:mon", "weekly:sun", "WEEKLY:FRI"} {
		assert.True(t, Valid(rule), "rule %q", rule)
	}
	for _, rule := range []string{"fortnightly", "weekly:", "weekly:monday", "monthly:1"} {
		assert.False(t, Valid(rule), "rule %q", rule)
	}
}
