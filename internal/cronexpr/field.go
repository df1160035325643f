// Package cronexpr interprets six-field cron expressions
// (seconds minutes hours day-of-month month day-of-week).
//
// Everything in this package is a pure function of its inputs and is safe for
// concurrent use. Expressions are parsed fresh on every call; nothing is cached.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// Field identifies one of the six positions of an expression.
type Field int

const (
	Second Field = iota
	Minute
	Hour
	DayOfMonth
	Month
	DayOfWeek
)

const fieldCount = 6

var fields = [fieldCount]Field{Second, Minute, Hour, DayOfMonth, Month, DayOfWeek}

var fieldNames = [fieldCount]string{"second", "minute", "hour", "day-of-month", "month", "day-of-week"}

var fieldBounds = [fieldCount][2]int{
	{0, 59},
	{0, 59},
	{0, 23},
	{1, 31},
	{1, 12},
	{0, 6},
}

func (f Field) Name() string {
	if f < 0 || int(f) >= fieldCount {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

func (f Field) String() string { return f.Name() }

// Bounds returns the inclusive domain of the field.
func (f Field) Bounds() (lo, hi int) {
	b := fieldBounds[f]
	return b[0], b[1]
}

func (f Field) contains(v int) bool {
	lo, hi := f.Bounds()
	return v >= lo && v <= hi
}

// Kind tags the variant held by a Pattern.
type Kind int

const (
	Wildcard Kind = iota
	Literal
	List
	Range
	Step
)

func (k Kind) String() string {
	switch k {
	case Wildcard:
		return "wildcard"
	case Literal:
		return "literal"
	case List:
		return "list"
	case Range:
		return "range"
	case Step:
		return "step"
	default:
		return "unknown"
	}
}

// Pattern is the parsed form of one field. Only the members relevant to Kind
// are set: Value for Literal, Values for List, Start/End for Range and
// Base/Interval for Step.
type Pattern struct {
	Kind     Kind
	Value    int
	Values   []int
	Start    int
	End      int
	Base     int
	Interval int
}

func WildcardPattern() Pattern { return Pattern{Kind: Wildcard} }

func LiteralPattern(n int) Pattern { return Pattern{Kind: Literal, Value: n} }

func ListPattern(values ...int) Pattern {
	return Pattern{Kind: List, Values: append([]int(nil), values...)}
}

func RangePattern(start, end int) Pattern { return Pattern{Kind: Range, Start: start, End: end} }

func StepPattern(base, interval int) Pattern {
	return Pattern{Kind: Step, Base: base, Interval: interval}
}

// Equal reports whether two patterns describe the same variant and values.
func (p Pattern) Equal(other Pattern) bool {
	if p.Kind != other.Kind {
		return false
	}
	switch p.Kind {
	case Wildcard:
		return true
	case Literal:
		return p.Value == other.Value
	case List:
		if len(p.Values) != len(other.Values) {
			return false
		}
		for i := range p.Values {
			if p.Values[i] != other.Values[i] {
				return false
			}
		}
		return true
	case Range:
		return p.Start == other.Start && p.End == other.End
	case Step:
		return p.Base == other.Base && p.Interval == other.Interval
	}
	return false
}

func (p Pattern) String() string {
	switch p.Kind {
	case Wildcard:
		return "*"
	case Literal:
		return strconv.Itoa(p.Value)
	case List:
		parts := make([]string, len(p.Values))
		for i, v := range p.Values {
			parts[i] = strconv.Itoa(v)
		}
		return strings.Join(parts, ",")
	case Range:
		return fmt.Sprintf("%d-%d", p.Start, p.End)
	case Step:
		return fmt.Sprintf("%d/%d", p.Base, p.Interval)
	}
	return "?"
}
