package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Describe renders expr as a short English phrase, e.g.
// "second 0, every 15 minutes from 0" for "0 */15 * * * *".
// Wildcard fields are omitted.
func Describe(expr Expression) string {
	if expr.IsZero() {
		return ""
	}
	if p, ok := presetFor(expr.Source()); ok && p.Description != "" {
		return p.Description
	}
	parts := make([]string, 0, fieldCount)
	for _, f := range fields {
		p := expr.fields[f]
		if p.Kind == Wildcard {
			continue
		}
		parts = append(parts, describeField(f, p))
	}
	if len(parts) == 0 {
		return "every second"
	}
	return strings.Join(parts, ", ")
}

func presetFor(source string) (Preset, bool) {
	name := Classify(source)
	if name == LabelCustom || name == LabelUnset {
		return Preset{}, false
	}
	return lookupPreset(name)
}

var unitNames = [fieldCount]string{"second", "minute", "hour", "day", "month", "weekday"}

func describeField(f Field, p Pattern) string {
	unit := unitNames[f]
	switch p.Kind {
	case Literal:
		return fmt.Sprintf("%s %s", unit, valueName(f, p.Value))
	case List:
		names := make([]string, len(p.Values))
		for i, v := range p.Values {
			names[i] = valueName(f, v)
		}
		return fmt.Sprintf("%ss %s", unit, strings.Join(names, ", "))
	case Range:
		return fmt.Sprintf("%ss %s through %s", unit, valueName(f, p.Start), valueName(f, p.End))
	case Step:
		if p.Interval == 1 {
			return fmt.Sprintf("every %s from %s", unit, valueName(f, p.Base))
		}
		return fmt.Sprintf("every %d %ss from %s", p.Interval, unit, valueName(f, p.Base))
	}
	return "every " + unit
}

func valueName(f Field, v int) string {
	switch f {
	case Month:
		if v >= 1 && v <= 12 {
			return time.Month(v).String()
		}
	case DayOfWeek:
		if v >= 0 && v <= 6 {
			return time.Weekday(v).String()
		}
	}
	return strconv.Itoa(v)
}
