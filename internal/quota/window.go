// Package quota decides whether a subscription still has sessions left in
// its current plan interval.
//
// Windows are calendar aligned in the studio's timezone: days start at
// midnight, weeks on Monday (ISO 8601), months on the 1st, quarters in
// January, April, July and October, years on January 1st. A plan with
// interval_count N covers the current unit plus the N-1 preceding ones.
package quota

import (
	"fmt"
	"time"

	"classbook/internal/types"
)

// Window returns the half-open range [start, end) of the plan interval that
// contains asOf. count values below 1 are treated as 1. A nil loc means UTC.
func Window(asOf time.Time, interval types.PlanInterval, count int, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if count < 1 {
		count = 1
	}

	t := asOf.In(loc)
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)

	var (
		unitStart time.Time
		step      func(time.Time, int) time.Time
	)

	switch interval {
	case types.IntervalDay:
		unitStart = midnight
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) }
	case types.IntervalWeek:
		// time.Weekday has Sunday = 0; ISO weeks start Monday.
		offset := (int(midnight.Weekday()) + 6) % 7
		unitStart = midnight.AddDate(0, 0, -offset)
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, 0, 7*n) }
	case types.IntervalMonth:
		unitStart = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, n, 0) }
	case types.IntervalQuarter:
		first := time.Month((int(m)-1)/3*3 + 1)
		unitStart = time.Date(y, first, 1, 0, 0, 0, 0, loc)
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, 3*n, 0) }
	case types.IntervalYear:
		unitStart = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		step = func(t time.Time, n int) time.Time { return t.AddDate(n, 0, 0) }
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown plan interval %q", interval)
	}

	return step(unitStart, -(count - 1)), step(unitStart, 1), nil
}
