package cronexpr

import (
	"fmt"
	"time"

	gocron "github.com/robfig/cron/v3"
)

var traditionalParser = gocron.NewParser(
	gocron.Second | gocron.Minute | gocron.Hour | gocron.Dom | gocron.Month | gocron.Dow,
)

// Divergence lists instants where a traditional cron daemon would fire but
// this interpreter would not, or the other way round. Traditional cron ORs
// day-of-month and day-of-week when both are restricted; here they are ANDed.
type Divergence struct {
	OnlyTraditional []time.Time
	OnlyHere        []time.Time
}

func (d Divergence) Empty() bool {
	return len(d.OnlyTraditional) == 0 && len(d.OnlyHere) == 0
}

// CompareTraditional computes the next count runs of expr both ways, starting
// at from, and returns the instants present in only one of the two series.
// Only the overlapping time span is compared.
func CompareTraditional(expr Expression, from time.Time, count int) (Divergence, error) {
	if expr.IsZero() || count <= 0 {
		return Divergence{}, nil
	}
	sched, err := traditionalParser.Parse(expr.Source())
	if err != nil {
		return Divergence{}, fmt.Errorf("parse as traditional cron: %w", err)
	}

	traditional := make([]time.Time, 0, count)
	cutoff := from.Add(DefaultHorizon)
	cursor := from
	for len(traditional) < count {
		next := sched.Next(cursor)
		if next.IsZero() || next.After(cutoff) {
			break
		}
		traditional = append(traditional, next)
		cursor = next
	}
	here := NextRuns(expr, from, count, DefaultHorizon)

	// Compare only up to the earlier of the two last instants so a longer
	// series is not reported as diverging just because it was cut at count.
	limit := cutoff
	if len(traditional) == count && len(here) == count {
		limit = earlier(traditional[count-1], here[count-1])
	} else if len(traditional) == count {
		limit = traditional[count-1]
	} else if len(here) == count {
		limit = here[count-1]
	}

	var out Divergence
	out.OnlyTraditional = difference(traditional, here, limit)
	out.OnlyHere = difference(here, traditional, limit)
	return out, nil
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// difference returns members of a missing from b, both sorted, up to limit.
func difference(a, b []time.Time, limit time.Time) []time.Time {
	var out []time.Time
	j := 0
	for _, t := range a {
		if t.After(limit) {
			break
		}
		for j < len(b) && b[j].Before(t) {
			j++
		}
		if j < len(b) && b[j].Equal(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
