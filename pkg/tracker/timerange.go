package tracker

import "time"

// Named time ranges for search filters.
const (
	RangeLastWeek  = "last_week"
	RangeThisWeek  = "this_week"
	RangeLastMonth = "last_month"
	RangeThisMonth = "this_month"
)

// TimeRangeBounds resolves a named range to a half-open [from, to) window in
// UTC. Weeks start on Monday; months are calendar months.
func TimeRangeBounds(name string, now time.Time) (from, to time.Time, ok bool) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	// Monday of the current week.
	offset := (int(today.Weekday()) + 6) % 7
	weekStart := today.AddDate(0, 0, -offset)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	switch name {
	case RangeThisWeek:
		return weekStart, weekStart.AddDate(0, 0, 7), true
	case RangeLastWeek:
		return weekStart.AddDate(0, 0, -7), weekStart, true
	case RangeThisMonth:
		return monthStart, monthStart.AddDate(0, 1, 0), true
	case RangeLastMonth:
		return monthStart.AddDate(0, -1, 0), monthStart, true
	default:
		return time.Time{}, time.Time{}, false
	}
}
