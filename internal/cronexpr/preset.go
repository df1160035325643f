package cronexpr

import (
	"errors"
	"fmt"
	"strings"
)

var ErrPresetNotFound = errors.New("preset not found")

// Frequency labels returned by Classify besides the preset names.
const (
	LabelCustom = "custom"
	LabelUnset  = ""
)

// Preset is a named schedule shorthand.
type Preset struct {
	Name        string
	Label       string
	Expression  string
	Description string
}

var presets = [...]Preset{
	{Name: "test", Label: "Every Minute (Test)", Expression: "0 */1 * * * *", Description: "every minute, for trying out a connection"},
	{Name: "hourly", Label: "Every Hour", Expression: "0 0 * * * *", Description: "at the top of every hour"},
	{Name: "daily", Label: "Daily", Expression: "0 0 0 * * *", Description: "every day at midnight"},
	{Name: "weekly", Label: "Weekly", Expression: "0 0 0 * * 0", Description: "every Sunday at midnight"},
	{Name: "monthly", Label: "Monthly", Expression: "0 0 0 1 * *", Description: "on the 1st of every month at midnight"},
}

var quickPresets = [...]Preset{
	{Name: "every-5-min", Label: "Every 5 min", Expression: "0 */5 * * * *"},
	{Name: "every-15-min", Label: "Every 15 min", Expression: "0 */15 * * * *"},
	{Name: "every-30-min", Label: "Every 30 min", Expression: "0 */30 * * * *"},
	{Name: "at-2am", Label: "At 2 AM", Expression: "0 0 2 * * *"},
	{Name: "at-6pm", Label: "At 6 PM", Expression: "0 0 18 * * *"},
}

// DefaultPreset is used when a connection has no stored schedule.
const DefaultPreset = "daily"

// Presets returns the named frequencies in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets[:])
	return out
}

// QuickPresets returns shortcuts for commonly typed custom expressions.
// They are not frequencies of their own and classify as custom.
func QuickPresets() []Preset {
	out := make([]Preset, len(quickPresets))
	copy(out, quickPresets[:])
	return out
}

func lookupPreset(name string) (Preset, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// Resolve returns the canonical expression of a named preset.
func Resolve(name string) (Expression, error) {
	p, ok := lookupPreset(name)
	if !ok {
		return Expression{}, fmt.Errorf("%w: %q", ErrPresetNotFound, name)
	}
	return Parse(p.Expression)
}

// Classify maps a stored expression back to its preset name by exact match
// with the canonical text. Empty input is unset; anything else is custom.
func Classify(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return LabelUnset
	}
	for _, p := range presets {
		if p.Expression == source {
			return p.Name
		}
	}
	return LabelCustom
}

// RetentionPeriod is how many days backups of a schedule are kept.
type RetentionPeriod int

const (
	RetentionWeek    RetentionPeriod = 7
	RetentionMonth   RetentionPeriod = 30
	RetentionQuarter RetentionPeriod = 90
	RetentionYear    RetentionPeriod = 365
)

const DefaultRetention = RetentionMonth

var ErrInvalidRetention = errors.New("retention must be one of 7, 30, 90 or 365 days")

var retentionPeriods = [...]RetentionPeriod{RetentionWeek, RetentionMonth, RetentionQuarter, RetentionYear}

func RetentionPeriods() []RetentionPeriod {
	out := make([]RetentionPeriod, len(retentionPeriods))
	copy(out, retentionPeriods[:])
	return out
}

// ParseRetention validates days against the closed set. Zero selects the
// default.
func ParseRetention(days int) (RetentionPeriod, error) {
	if days == 0 {
		return DefaultRetention, nil
	}
	for _, p := range retentionPeriods {
		if int(p) == days {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: got %d", ErrInvalidRetention, days)
}

func (r RetentionPeriod) Days() int { return int(r) }

func (r RetentionPeriod) String() string {
	if r == RetentionYear {
		return "1 Year"
	}
	return fmt.Sprintf("%d Days", int(r))
}
