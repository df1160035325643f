package cronexpr

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}

func TestNextRunsHourly(t *testing.T) {
	runs := NextRuns(MustParse("0 0 * * * *"), utc(2024, 1, 1, 0, 0, 30), 2, DefaultHorizon)
	assert.Equal(t, []time.Time{utc(2024, 1, 1, 1, 0, 0), utc(2024, 1, 1, 2, 0, 0)}, runs)
}

func TestNextRunsEveryQuarterHourExcludesReference(t *testing.T) {
	runs := NextRuns(MustParse("0 */15 * * * *"), utc(2024, 1, 1, 0, 0, 0), 3, DefaultHorizon)
	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 0, 15, 0),
		utc(2024, 1, 1, 0, 30, 0),
		utc(2024, 1, 1, 0, 45, 0),
	}, runs)
}

func TestNextRunsDropsSubSecondPrecision(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 59, 900_000_000, time.UTC)
	runs := NextRuns(MustParse("0 * * * * *"), from, 1, 0)
	require.Len(t, runs, 1)
	assert.Equal(t, utc(2024, 1, 1, 0, 1, 0), runs[0])
}

func TestNextRunsImpossibleDateIsEmpty(t *testing.T) {
	runs := NextRuns(MustParse("0 0 0 31 2 *"), utc(2024, 1, 1, 0, 0, 0), 3, DefaultHorizon)
	assert.Empty(t, runs)
}

func TestNextRunsLeapDay(t *testing.T) {
	expr := MustParse("0 0 0 29 2 *")

	runs := NextRuns(expr, utc(2023, 6, 1, 0, 0, 0), 1, DefaultHorizon)
	assert.Equal(t, []time.Time{utc(2024, 2, 29, 0, 0, 0)}, runs)

	// The next leap day after 2025 is more than two years out.
	assert.Empty(t, NextRuns(expr, utc(2025, 1, 1, 0, 0, 0), 1, DefaultHorizon))
}

func TestNextRunsStopsAtHorizon(t *testing.T) {
	expr := MustParse("0 0 0 1 1 *")
	from := utc(2024, 6, 1, 0, 0, 0)

	assert.Empty(t, NextRuns(expr, from, 1, 24*time.Hour))

	runs := NextRuns(expr, from, 3, DefaultHorizon)
	assert.Equal(t, []time.Time{utc(2025, 1, 1, 0, 0, 0), utc(2026, 1, 1, 0, 0, 0)}, runs)
}

func TestNextRunsHorizonIsInclusive(t *testing.T) {
	from := utc(2024, 1, 1, 0, 0, 0)
	runs := NextRuns(MustParse("0 0 1 * * *"), from, 5, time.Hour)
	assert.Equal(t, []time.Time{utc(2024, 1, 1, 1, 0, 0)}, runs)
}

func TestNextRunsZeroCount(t *testing.T) {
	assert.Empty(t, NextRuns(MustParse("* * * * * *"), utc(2024, 1, 1, 0, 0, 0), 0, 0))
	assert.Empty(t, NextRuns(Expression{}, utc(2024, 1, 1, 0, 0, 0), 3, 0))
}

func TestNextRunsIsIdempotentAndOrdered(t *testing.T) {
	expr := MustParse("*/20 5,35 9-17 * * 1-5")
	from := utc(2024, 2, 28, 16, 40, 0)

	first := NextRuns(expr, from, 25, DefaultHorizon)
	second := NextRuns(expr, from, 25, DefaultHorizon)
	require.Len(t, first, 25)
	assert.Equal(t, first, second)

	for i, run := range first {
		assert.True(t, expr.MatchesTime(run), "run %s does not match", run)
		if i > 0 {
			assert.True(t, run.After(first[i-1]), "runs not strictly increasing at %d", i)
		}
	}
}

func TestNextRunsWeekdayFiltersDays(t *testing.T) {
	// 2024-01-06 is a Saturday.
	runs := NextRuns(MustParse("0 0 0 * * 0"), utc(2024, 1, 6, 12, 0, 0), 2, DefaultHorizon)
	assert.Equal(t, []time.Time{utc(2024, 1, 7, 0, 0, 0), utc(2024, 1, 14, 0, 0, 0)}, runs)
}

func TestNextRunsRepeatedWallClockHour(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	from := time.Date(2024, time.November, 3, 0, 0, 0, 0, loc)
	runs := NextRuns(MustParse("0 30 1 * * *"), from, 2, DefaultHorizon)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Equal(utc(2024, 11, 3, 5, 30, 0)), "got %s", runs[0].UTC())
	assert.True(t, runs[1].Equal(utc(2024, 11, 3, 6, 30, 0)), "got %s", runs[1].UTC())
}

func TestNextRunsSkippedWallClockHour(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	from := time.Date(2024, time.March, 10, 0, 0, 0, 0, loc)
	runs := NextRuns(MustParse("0 30 2 * * *"), from, 1, DefaultHorizon)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Equal(time.Date(2024, time.March, 11, 2, 30, 0, 0, loc)), "got %s", runs[0])
}

// scan is the reference one-second search the evaluator must agree with.
func scan(expr Expression, from time.Time, count int, horizon time.Duration) []time.Time {
	var out []time.Time
	cutoff := from.Add(horizon)
	for c := from.Truncate(time.Second).Add(time.Second); !c.After(cutoff) && len(out) < count; c = c.Add(time.Second) {
		if expr.MatchesTime(c) {
			out = append(out, c)
		}
	}
	return out
}

func TestNextRunsAgreesWithSecondScan(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	windows := []time.Time{
		time.Date(2024, time.March, 9, 12, 0, 0, 0, loc),
		time.Date(2024, time.November, 2, 12, 0, 0, 0, loc),
		time.Date(2024, time.February, 28, 20, 0, 0, 0, time.UTC),
	}
	expressions := []string{
		"0 */20 * * * *",
		"15 30 1 * * *",
		"0 0 */3 * * *",
		"0 0 0 * * *",
		"*/30 59 * * * *",
		"0 0 2 * * *",
		"10,20 0-5 1-3 * * 0,6",
		"0 0 0 29 2 *",
	}
	for _, window := range windows {
		for _, source := range expressions {
			expr := MustParse(source)
			want := scan(expr, window, 500, 48*time.Hour)
			got := NextRuns(expr, window, 500, 48*time.Hour)
			require.Equal(t, len(want), len(got), "%s from %s", source, window)
			for i := range want {
				assert.True(t, want[i].Equal(got[i]), "%s from %s: run %d want %s got %s", source, window, i, want[i], got[i])
			}
		}
	}
}

func TestNext(t *testing.T) {
	next, ok := MustParse("0 0 0 1 * *").Next(utc(2024, 1, 15, 0, 0, 0))
	require.True(t, ok)
	assert.Equal(t, utc(2024, 2, 1, 0, 0, 0), next)

	_, ok = MustParse("0 0 0 30 2 *").Next(utc(2024, 1, 15, 0, 0, 0))
	assert.False(t, ok)
}

func TestTooFrequent(t *testing.T) {
	cases := []struct {
		source  string
		perMin  int
		tooMany bool
	}{
		{"* * * * * *", 60, true},
		{"? * * * * *", 60, true},
		{"0 * * * * *", 1, false},
		{"0,30 * * * * *", 2, true},
		{"*/15 * * * * *", 4, true},
		{"*/7 * * * * *", 9, true},
		{"0/60 * * * * *", 1, false},
		{"10-20 * * * * *", 1, false},
		{"0 0/5 * * * *", 1, false},
	}
	for _, tc := range cases {
		expr := MustParse(tc.source)
		assert.Equal(t, tc.perMin, RunsPerMinute(expr), tc.source)
		assert.Equal(t, tc.tooMany, TooFrequent(expr), tc.source)
	}
}
