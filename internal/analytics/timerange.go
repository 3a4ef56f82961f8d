package analytics

import (
	"fmt"
	"time"
)

// Range is a closed UTC day interval used by reporting queries.
type Range struct {
	Start time.Time // first day, 00:00:00 UTC
	End   time.Time // last day, 23:59:59.999999999 UTC
}

// Days returns the number of calendar days covered by the range.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayEnd(t time.Time) time.Time {
	return dayStart(t).Add(24*time.Hour - time.Nanosecond)
}

func quarterBounds(year int, quarter int) (time.Time, time.Time) {
	startMonth := time.Month((quarter-1)*3 + 1)
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0).Add(-time.Nanosecond)
	return start, end
}

// ResolveRange resolves a named range preset relative to today (UTC).
// Supported presets: last_7_days, this_week, last_30_days, this_month,
// last_90_days, this_quarter, last_year, this_year, custom.
func ResolveRange(preset string, today time.Time, customStart, customEnd time.Time) (Range, error) {
	today = dayStart(today)

	switch preset {
	case "last_7_days", "last_week":
		return Range{Start: today.AddDate(0, 0, -6), End: dayEnd(today)}, nil
	case "this_week":
		// Weeks start on Monday.
		weekday := (int(today.Weekday()) + 6) % 7
		start := today.AddDate(0, 0, -weekday)
		return Range{Start: start, End: dayEnd(start.AddDate(0, 0, 6))}, nil
	case "last_30_days", "last_month":
		return Range{Start: today.AddDate(0, 0, -29), End: dayEnd(today)}, nil
	case "this_month":
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Nanosecond)}, nil
	case "last_90_days", "last_quarter":
		return Range{Start: today.AddDate(0, 0, -89), End: dayEnd(today)}, nil
	case "this_quarter":
		quarter := (int(today.Month())-1)/3 + 1
		start, end := quarterBounds(today.Year(), quarter)
		return Range{Start: start, End: end}, nil
	case "last_year":
		return Range{Start: today.AddDate(0, 0, -364), End: dayEnd(today)}, nil
	case "this_year":
		start := time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: start, End: dayEnd(today)}, nil
	case "custom":
		if customStart.IsZero() || customEnd.IsZero() {
			return Range{}, fmt.Errorf("custom range requires start and end")
		}
		if customEnd.Before(customStart) {
			return Range{}, fmt.Errorf("custom range end precedes start")
		}
		return Range{Start: dayStart(customStart), End: dayEnd(customEnd)}, nil
	default:
		return Range{}, fmt.Errorf("unknown range preset: %q", preset)
	}
}

// ResolveCompare resolves a comparison range relative to the primary one.
// Supported presets: previous_period, previous_year_period, custom.
func ResolveCompare(preset string, primary Range, customStart, customEnd time.Time) (Range, error) {
	switch preset {
	case "":
		return Range{}, nil
	case "previous_period":
		days := primary.Days()
		end := primary.Start.AddDate(0, 0, -1)
		start := end.AddDate(0, 0, -(days - 1))
		return Range{Start: start, End: dayEnd(end)}, nil
	case "previous_year_period":
		return Range{
			Start: primary.Start.AddDate(-1, 0, 0),
			End:   dayEnd(primary.End.AddDate(-1, 0, 0)),
		}, nil
	case "custom":
		if customStart.IsZero() || customEnd.IsZero() {
			return Range{}, fmt.Errorf("custom compare range requires start and end")
		}
		return Range{Start: dayStart(customStart), End: dayEnd(customEnd)}, nil
	default:
		return Range{}, fmt.Errorf("unknown compare preset: %q", preset)
	}
}
