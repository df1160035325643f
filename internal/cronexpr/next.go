package cronexpr

import "time"

// DefaultHorizon bounds the forward search when no horizon is given.
const DefaultHorizon = 2 * 365 * 24 * time.Hour

// NextRuns returns up to count instants after from at which all six fields
// of expr match, in chronological order. Candidates start at from+1s with
// sub-second precision dropped and are evaluated in from's location.
//
// The search stops once a candidate passes from+horizon. Fewer than count
// results (possibly none) means no further occurrence inside the horizon;
// that is not an error. A horizon <= 0 selects DefaultHorizon.
func NextRuns(expr Expression, from time.Time, count int, horizon time.Duration) []time.Time {
	if count <= 0 || expr.IsZero() {
		return nil
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	cutoff := from.Add(horizon)
	runs := make([]time.Time, 0, count)
	candidate := from.Truncate(time.Second).Add(time.Second)
	for !candidate.After(cutoff) {
		field, ok := expr.firstMismatch(candidate)
		if ok {
			runs = append(runs, candidate)
			if len(runs) == count {
				break
			}
			candidate = candidate.Add(time.Second)
			continue
		}
		candidate = advance(candidate, field)
	}
	return runs
}

// Next returns the first run after from within DefaultHorizon.
func (e Expression) Next(from time.Time) (time.Time, bool) {
	runs := NextRuns(e, from, 1, DefaultHorizon)
	if len(runs) == 0 {
		return time.Time{}, false
	}
	return runs[0], true
}

// advance moves t past every instant that shares t's value for the
// mismatching field. Each skipped instant would fail the same field, so the
// result equals a one-second scan. The jump never crosses a zone offset
// change; the wall clock is only linear inside one zone period.
func advance(t time.Time, mismatch Field) time.Time {
	hour, minute, second := t.Clock()
	var seconds int
	switch mismatch {
	case Month, DayOfMonth, DayOfWeek:
		seconds = (23-hour)*3600 + (59-minute)*60 + (60 - second)
	case Hour:
		seconds = (59-minute)*60 + (60 - second)
	case Minute:
		seconds = 60 - second
	default:
		seconds = 1
	}
	next := t.Add(time.Duration(seconds) * time.Second)
	if _, end := t.ZoneBounds(); !end.IsZero() && end.After(t) && end.Before(next) {
		next = end
	}
	return next
}

// RunsPerMinute estimates how many times per minute the seconds field can
// fire: 60 for a wildcard, the member count for a list, ceil(60/interval) for
// a step and 1 for anything else.
func RunsPerMinute(expr Expression) int {
	p := expr.fields[Second]
	switch p.Kind {
	case Wildcard:
		return 60
	case List:
		return len(p.Values)
	case Step:
		if p.Interval < 1 {
			return 60
		}
		return (60 + p.Interval - 1) / p.Interval
	default:
		return 1
	}
}

// TooFrequent reports whether expr may fire more than once per minute.
func TooFrequent(expr Expression) bool {
	return RunsPerMinute(expr) > 1
}
