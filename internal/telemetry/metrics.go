package telemetry

import (
	"sync/atomic"
)

type Metrics struct {
	ExpressionsValidated atomic.Uint64
	ExpressionsRejected  atomic.Uint64
	TooFrequentWarnings  atomic.Uint64
	PreviewsComputed     atomic.Uint64
	EmptyPreviews        atomic.Uint64
	SchedulesSaved       atomic.Uint64
	SchedulesRemoved     atomic.Uint64
	ActiveSchedules      atomic.Int64
	ScheduleDispatches   atomic.Uint64
	ScheduleFailures     atomic.Uint64
	ScheduleOverlaps     atomic.Uint64
	ActiveLanes          atomic.Int64
	SchedulerTicks       atomic.Uint64
	LastDispatchUnix     atomic.Int64
}

func (m *Metrics) Snapshot() map[string]uint64 {
	active := m.ActiveSchedules.Load()
	if active < 0 {
		active = 0
	}
	lanes := m.ActiveLanes.Load()
	if lanes < 0 {
		lanes = 0
	}
	last := m.LastDispatchUnix.Load()
	if last < 0 {
		last = 0
	}
	return map[string]uint64{
		"expressions_validated_total": m.ExpressionsValidated.Load(),
		"expressions_rejected_total":  m.ExpressionsRejected.Load(),
		"too_frequent_warnings_total": m.TooFrequentWarnings.Load(),
		"previews_computed_total":     m.PreviewsComputed.Load(),
		"empty_previews_total":        m.EmptyPreviews.Load(),
		"schedules_saved_total":       m.SchedulesSaved.Load(),
		"schedules_removed_total":     m.SchedulesRemoved.Load(),
		"active_schedules":            uint64(active),
		"schedule_dispatches_total":   m.ScheduleDispatches.Load(),
		"schedule_failures_total":     m.ScheduleFailures.Load(),
		"schedule_overlaps_total":     m.ScheduleOverlaps.Load(),
		"active_lanes":                uint64(lanes),
		"scheduler_ticks_total":       m.SchedulerTicks.Load(),
		"last_dispatch_unix":          uint64(last),
	}
}
