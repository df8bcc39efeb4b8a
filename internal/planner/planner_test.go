package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanehull/douclip/internal/types"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDay(s)
	require.NoError(t, err)
	return d
}

func formatDays(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(types.DateLayout))
	}
	return out
}

func TestDaily_LookbackWindow(t *testing.T) {
	dates, err := Daily(day(t, "2025-01-07"), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-05", "2025-01-06", "2025-01-07"}, formatDays(dates))
}

func TestDaily_LengthIsLookbackPlusOne(t *testing.T) {
	target := day(t, "2024-03-01")
	for lookback := 0; lookback <= 10; lookback++ {
		dates, err := Daily(target, lookback)
		require.NoError(t, err)
		require.Len(t, dates, lookback+1)
		assert.True(t, dates[0].Equal(target.AddDate(0, 0, -lookback)))
		assert.True(t, dates[len(dates)-1].Equal(target))
		for i := 1; i < len(dates); i++ {
			assert.Equal(t, 24*time.Hour, dates[i].Sub(dates[i-1]))
		}
	}
}

func TestDaily_CrossesMonthBoundary(t *testing.T) {
	dates, err := Daily(day(t, "2024-03-01"), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-28", "2024-02-29", "2024-03-01"}, formatDays(dates))
}

func TestDaily_NegativeLookback(t *testing.T) {
	_, err := Daily(day(t, "2025-01-07"), -1)
	assert.Error(t, err)
}

func TestDaily_TruncatesTimeOfDay(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	target := time.Date(2025, 1, 7, 23, 30, 0, 0, loc)
	dates, err := Daily(target, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-07"}, formatDays(dates))
}

func TestBackfill_Range(t *testing.T) {
	dates := Backfill(day(t, "2025-12-01"), day(t, "2025-12-03"))
	assert.Equal(t, []string{"2025-12-01", "2025-12-02", "2025-12-03"}, formatDays(dates))
}

func TestBackfill_SingleDay(t *testing.T) {
	dates := Backfill(day(t, "2025-12-01"), day(t, "2025-12-01"))
	assert.Equal(t, []string{"2025-12-01"}, formatDays(dates))
}

func TestBackfill_InvertedRangeIsEmpty(t *testing.T) {
	dates := Backfill(day(t, "2025-12-03"), day(t, "2025-12-01"))
	assert.NotNil(t, dates)
	assert.Empty(t, dates)
}

func TestPlan(t *testing.T) {
	start, end := day(t, "2025-12-01"), day(t, "2025-12-03")

	backfill, err := Plan(types.ModeBackfill, start, end, 5)
	require.NoError(t, err)
	assert.Len(t, backfill, 3, "backfill must not apply lookback")

	daily, err := Plan(types.ModeDaily, time.Time{}, end, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-12-02", "2025-12-03"}, formatDays(daily))

	_, err = Plan(types.Mode("weekly"), start, end, 0)
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	_, _, ok := Window(nil)
	assert.False(t, ok)

	dates := Backfill(day(t, "2025-12-01"), day(t, "2025-12-03"))
	first, last, ok := Window(dates)
	require.True(t, ok)
	assert.Equal(t, "2025-12-01", first.Format(types.DateLayout))
	assert.Equal(t, "2025-12-03", last.Format(types.DateLayout))
}

func TestParseDay_Invalid(t *testing.T) {
	_, err := ParseDay("07/01/2025")
	assert.Error(t, err)
}
