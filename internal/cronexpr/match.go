package cronexpr

import "time"

// Matches reports whether value satisfies p. It never fails; malformed
// patterns are rejected by Parse before they get here.
func Matches(value int, p Pattern) bool {
	return p.Matches(value)
}

func (p Pattern) Matches(value int) bool {
	switch p.Kind {
	case Wildcard:
		return true
	case Literal:
		return value == p.Value
	case List:
		for _, v := range p.Values {
			if v == value {
				return true
			}
		}
		return false
	case Range:
		return value >= p.Start && value <= p.End
	case Step:
		if p.Interval < 1 {
			return false
		}
		return value >= p.Base && (value-p.Base)%p.Interval == 0
	}
	return false
}

// calendarValue extracts the unit value of f from t in t's location.
// Month is 1-based and day-of-week is 0 for Sunday.
func calendarValue(t time.Time, f Field) int {
	switch f {
	case Second:
		return t.Second()
	case Minute:
		return t.Minute()
	case Hour:
		return t.Hour()
	case DayOfMonth:
		return t.Day()
	case Month:
		return int(t.Month())
	case DayOfWeek:
		return int(t.Weekday())
	}
	return -1
}

// MatchesTime reports whether every field of e matches t.
func (e Expression) MatchesTime(t time.Time) bool {
	_, ok := e.firstMismatch(t)
	return ok
}

// firstMismatch returns the coarsest field that does not match t, or ok=true
// when all six match.
func (e Expression) firstMismatch(t time.Time) (Field, bool) {
	for _, f := range [...]Field{Month, DayOfMonth, DayOfWeek, Hour, Minute, Second} {
		if !e.fields[f].Matches(calendarValue(t, f)) {
			return f, false
		}
	}
	return 0, true
}
