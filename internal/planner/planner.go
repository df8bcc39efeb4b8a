/*
Package planner computes the ordered list of publication dates a run scans.
*/
package planner

import (
	"fmt"
	"time"

	"github.com/shanehull/douclip/internal/types"
)

// DefaultLookbackDays re-scans the two previous days so late extra editions
// are still picked up.
const DefaultLookbackDays = 2

// Day truncates t to its civil date, expressed as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(types.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// Daily returns [target-lookback, ..., target], ascending.
func Daily(target time.Time, lookback int) ([]time.Time, error) {
	if lookback < 0 {
		return nil, fmt.Errorf("lookback days must not be negative, got %d", lookback)
	}
	end := Day(target)
	return Backfill(end.AddDate(0, 0, -lookback), end), nil
}

// Backfill returns every date in [start, end], ascending. An inverted range
// yields an empty window.
func Backfill(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if start.After(end) {
		return []time.Time{}
	}

	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Plan dispatches on mode. Daily mode uses end as the target date and ignores
// start; backfill mode ignores lookback.
func Plan(mode types.Mode, start, end time.Time, lookback int) ([]time.Time, error) {
	switch mode {
	case types.ModeDaily:
		return Daily(end, lookback)
	case types.ModeBackfill:
		return Backfill(start, end), nil
	default:
		return nil, fmt.Errorf("unknown run mode %q", mode)
	}
}

// Window returns the first and last date of a planned window. ok is false for
// an empty window.
func Window(dates []time.Time) (first, last time.Time, ok bool) {
	if len(dates) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return dates[0], dates[len(dates)-1], true
}
