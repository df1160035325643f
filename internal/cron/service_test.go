package cron

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grixate/backupcron/internal/cronexpr"
	"github.com/grixate/backupcron/internal/runtime/actor"
	"github.com/grixate/backupcron/internal/telemetry"
)

type memStore struct {
	mu        sync.Mutex
	schedules map[string][]byte
	runs      map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{schedules: map[string][]byte{}, runs: map[string][]byte{}}
}

func (m *memStore) PutSchedule(_ context.Context, id string, schedule []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[id] = schedule
	return nil
}

func (m *memStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *memStore) ListSchedules(_ context.Context) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.schedules))
	for k, v := range m.schedules {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) RecordScheduleRun(_ context.Context, scheduleID, runID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[scheduleID+":"+runID] = payload
	return nil
}

func (m *memStore) ListScheduleRuns(_ context.Context, scheduleID string, limit int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0)
	for k := range m.runs {
		if strings.HasPrefix(k, scheduleID+":") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.runs[k])
	}
	return out, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestService(handler Handler, opts Options) (*Service, *memStore, *clock) {
	store := newMemStore()
	clk := &clock{now: time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	return NewService(store, handler, &telemetry.Metrics{}, opts), store, clk
}

func TestApplyPresetComputesNextRun(t *testing.T) {
	service, _, _ := newTestService(nil, Options{})
	schedule, err := service.Apply(context.Background(), "conn-1", Request{Preset: "daily", RetentionDays: 7, Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if schedule.Expr != "0 0 0 * * *" {
		t.Fatalf("unexpected expression: %q", schedule.Expr)
	}
	if schedule.Frequency() != "daily" {
		t.Fatalf("unexpected frequency: %q", schedule.Frequency())
	}
	if schedule.State.NextRunAt == nil {
		t.Fatal("next run should not be nil")
	}
	want := time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC)
	if !schedule.State.NextRunAt.Equal(want) {
		t.Fatalf("next run = %s, want %s", schedule.State.NextRunAt, want)
	}
	if schedule.RetentionDays != 7 || !schedule.S3CleanupOnRetention {
		t.Fatalf("unexpected retention settings: %+v", schedule)
	}
}

func TestApplyUpdatesExistingSchedule(t *testing.T) {
	service, _, _ := newTestService(nil, Options{})
	ctx := context.Background()
	first, err := service.Apply(ctx, "conn-1", Request{Preset: "hourly", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	second, err := service.Apply(ctx, "conn-1", Request{Preset: "custom", Expr: "0  */15 * * * *", RetentionDays: 90, Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected schedule to be updated in place, got %s and %s", first.ID, second.ID)
	}
	if second.Expr != "0 */15 * * * *" || second.Frequency() != cronexpr.LabelCustom {
		t.Fatalf("unexpected schedule: %+v", second)
	}
	if second.RetentionDays != 90 {
		t.Fatalf("unexpected retention: %d", second.RetentionDays)
	}
	all, err := service.List(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one schedule, got %d", len(all))
	}
}

func TestPutRejectsInvalidInput(t *testing.T) {
	service, _, _ := newTestService(nil, Options{})
	ctx := context.Background()

	err := service.Put(ctx, Schedule{ConnectionID: "c", Expr: "0 0 * *", Enabled: true})
	if !errors.Is(err, cronexpr.ErrWrongFieldCount) {
		t.Fatalf("expected wrong field count, got %v", err)
	}
	err = service.Put(ctx, Schedule{ConnectionID: "c", Expr: "* * * * * *", Enabled: true})
	if !errors.Is(err, ErrTooFrequent) {
		t.Fatalf("expected too frequent, got %v", err)
	}
	err = service.Put(ctx, Schedule{ConnectionID: "c", Expr: "0 0 * * * *", RetentionDays: 14})
	if !errors.Is(err, cronexpr.ErrInvalidRetention) {
		t.Fatalf("expected invalid retention, got %v", err)
	}
	if _, err := service.Apply(ctx, "c", Request{Preset: "fortnightly"}); !errors.Is(err, cronexpr.ErrPresetNotFound) {
		t.Fatalf("expected unknown preset, got %v", err)
	}
}

func TestAllowTooFrequent(t *testing.T) {
	service, _, _ := newTestService(nil, Options{AllowTooFrequent: true})
	if _, err := service.Apply(context.Background(), "c", Request{Expr: "*/10 * * * * *", Enabled: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestImpossibleScheduleHasNoNextRun(t *testing.T) {
	service, _, _ := newTestService(nil, Options{})
	schedule, err := service.Apply(context.Background(), "c", Request{Expr: "0 0 0 31 2 *", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if schedule.State.NextRunAt != nil {
		t.Fatalf("expected no next run, got %s", schedule.State.NextRunAt)
	}
}

func TestTickDispatchesDueSchedules(t *testing.T) {
	var calls []string
	handler := func(_ context.Context, schedule Schedule) (string, error) {
		calls = append(calls, schedule.ConnectionID)
		return "backup.sql.gz", nil
	}
	service, _, clk := newTestService(handler, Options{})
	ctx := context.Background()
	schedule, err := service.Apply(ctx, "conn-1", Request{Preset: "hourly", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	service.tick(ctx)
	if len(calls) != 0 {
		t.Fatalf("schedule ran early: %v", calls)
	}

	clk.Set(time.Date(2026, 2, 7, 13, 0, 2, 0, time.UTC))
	service.tick(ctx)
	if len(calls) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(calls))
	}

	updated, err := service.Get(ctx, schedule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.State.LastStatus != RunStatusOK {
		t.Fatalf("unexpected status: %q", updated.State.LastStatus)
	}
	want := time.Date(2026, 2, 7, 14, 0, 0, 0, time.UTC)
	if updated.State.NextRunAt == nil || !updated.State.NextRunAt.Equal(want) {
		t.Fatalf("next run = %v, want %s", updated.State.NextRunAt, want)
	}

	runs, err := service.Runs(ctx, schedule.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Result != "backup.sql.gz" || runs[0].TriggeredBy != "scheduled" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestRunNowRecordsFailure(t *testing.T) {
	handler := func(context.Context, Schedule) (string, error) {
		return "", errors.New("pg_dump not found")
	}
	service, _, _ := newTestService(handler, Options{})
	ctx := context.Background()
	schedule, err := service.Apply(ctx, "conn-1", Request{Preset: "weekly", Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := service.RunNow(ctx, schedule.ID, false); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
	record, err := service.RunNow(ctx, schedule.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != RunStatusError || record.Error != "pg_dump not found" {
		t.Fatalf("unexpected record: %+v", record)
	}
	updated, err := service.Get(ctx, schedule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.State.NextRunAt != nil {
		t.Fatal("disabled schedule should not get a next run")
	}
	if updated.State.LastError != "pg_dump not found" {
		t.Fatalf("unexpected last error: %q", updated.State.LastError)
	}
}

func TestEnableAndRemove(t *testing.T) {
	metrics := &telemetry.Metrics{}
	store := newMemStore()
	service := NewService(store, nil, metrics, Options{})
	ctx := context.Background()
	schedule, err := service.Apply(ctx, "conn-1", Request{Preset: "monthly"})
	if err != nil {
		t.Fatal(err)
	}
	if schedule.State.NextRunAt != nil {
		t.Fatal("disabled schedule should not have a next run")
	}
	if err := service.Enable(ctx, schedule.ID, true); err != nil {
		t.Fatal(err)
	}
	enabled, err := service.Get(ctx, schedule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if enabled.State.NextRunAt == nil || enabled.State.NextRunAt.Day() != 1 {
		t.Fatalf("unexpected next run: %v", enabled.State.NextRunAt)
	}
	if metrics.ActiveSchedules.Load() != 1 {
		t.Fatalf("expected one active schedule, got %d", metrics.ActiveSchedules.Load())
	}
	if err := service.Remove(ctx, schedule.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := service.Get(ctx, schedule.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := service.Remove(ctx, schedule.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	service, _, _ := newTestService(nil, Options{})
	ctx := context.Background()
	schedule, err := service.Apply(ctx, "conn-1", Request{Expr: "0 */15 * * * *", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	runs, err := service.Preview(ctx, schedule.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{
		time.Date(2026, 2, 7, 12, 15, 0, 0, time.UTC),
		time.Date(2026, 2, 7, 12, 30, 0, 0, time.UTC),
		time.Date(2026, 2, 7, 12, 45, 0, 0, time.UTC),
	}
	if len(runs) != len(want) {
		t.Fatalf("got %d runs", len(runs))
	}
	for i := range want {
		if !runs[i].Equal(want[i]) {
			t.Fatalf("run %d = %s, want %s", i, runs[i], want[i])
		}
	}
}

func TestRescheduleSkipsMissedRuns(t *testing.T) {
	var calls int
	handler := func(context.Context, Schedule) (string, error) {
		calls++
		return "", nil
	}
	service, _, clk := newTestService(handler, Options{})
	ctx := context.Background()
	schedule, err := service.Apply(ctx, "conn-1", Request{Preset: "hourly", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	clk.Set(time.Date(2026, 2, 9, 8, 30, 0, 0, time.UTC))
	if err := service.Reschedule(ctx); err != nil {
		t.Fatal(err)
	}
	updated, err := service.Get(ctx, schedule.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC)
	if updated.State.NextRunAt == nil || !updated.State.NextRunAt.Equal(want) {
		t.Fatalf("next run = %v, want %s", updated.State.NextRunAt, want)
	}
	service.tick(ctx)
	if calls != 0 {
		t.Fatalf("missed runs should not be caught up, got %d dispatches", calls)
	}
}

func TestDispatcherSkipsOverlappingRuns(t *testing.T) {
	lanes := actor.NewSystem(0, time.Minute)
	defer lanes.Stop()

	release := make(chan struct{})
	started := make(chan string, 4)
	handler := func(_ context.Context, schedule Schedule) (string, error) {
		started <- schedule.ConnectionID
		<-release
		return "done", nil
	}
	service, _, clk := newTestService(handler, Options{Dispatcher: lanes})
	ctx := context.Background()
	first, err := service.Apply(ctx, "a", Request{Preset: "test", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := service.Apply(ctx, "b", Request{Preset: "test", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	clk.Set(time.Date(2026, 2, 7, 12, 1, 0, 0, time.UTC))
	service.tick(ctx)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case conn := <-started:
			seen[conn] = true
		case <-time.After(2 * time.Second):
			t.Fatal("backups did not start concurrently")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("unexpected dispatches: %v", seen)
	}

	clk.Set(time.Date(2026, 2, 7, 12, 2, 0, 0, time.UTC))
	service.tick(ctx)
	if got := service.metrics.ScheduleOverlaps.Load(); got != 2 {
		t.Fatalf("expected both overlapping runs to be skipped, got %d", got)
	}

	close(release)
	if err := lanes.Stop(); err != nil {
		t.Fatal(err)
	}
	runs, err := service.Runs(ctx, first.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Result != "done" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	updated, err := service.Get(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 2, 7, 12, 3, 0, 0, time.UTC)
	if updated.State.NextRunAt == nil || !updated.State.NextRunAt.Equal(want) {
		t.Fatalf("next run = %v, want %s", updated.State.NextRunAt, want)
	}
}

func startBlockedRun(t *testing.T) (*Service, *actor.System, Schedule, chan struct{}) {
	t.Helper()
	lanes := actor.NewSystem(0, time.Minute)
	t.Cleanup(func() { _ = lanes.Stop() })

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	handler := func(context.Context, Schedule) (string, error) {
		started <- struct{}{}
		<-release
		return "done", nil
	}
	service, _, clk := newTestService(handler, Options{Dispatcher: lanes})
	schedule, err := service.Apply(context.Background(), "conn-1", Request{Preset: "test", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	clk.Set(time.Date(2026, 2, 7, 12, 1, 0, 0, time.UTC))
	service.tick(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("backup did not start")
	}
	return service, lanes, schedule, release
}

func TestRemoveDuringRunIsKept(t *testing.T) {
	service, lanes, schedule, release := startBlockedRun(t)
	ctx := context.Background()

	if err := service.Remove(ctx, schedule.ID); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := lanes.Stop(); err != nil {
		t.Fatal(err)
	}

	schedules, err := service.List(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(schedules) != 0 {
		t.Fatalf("removed schedule came back: %+v", schedules)
	}
	runs, err := service.Runs(ctx, schedule.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != RunStatusOK {
		t.Fatalf("expected the finished run to be recorded: %+v", runs)
	}
}

func TestDisableDuringRunIsKept(t *testing.T) {
	service, lanes, schedule, release := startBlockedRun(t)
	ctx := context.Background()

	if err := service.Enable(ctx, schedule.ID, false); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := lanes.Stop(); err != nil {
		t.Fatal(err)
	}

	updated, err := service.Get(ctx, schedule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Enabled {
		t.Fatal("disable made during the run was undone")
	}
	if updated.State.NextRunAt != nil {
		t.Fatalf("disabled schedule should have no next run, got %v", updated.State.NextRunAt)
	}
	if updated.State.LastStatus != RunStatusOK || updated.State.LastRunAt == nil {
		t.Fatalf("run outcome not saved: %+v", updated.State)
	}
}
