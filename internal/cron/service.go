package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/grixate/backupcron/internal/cronexpr"
	"github.com/grixate/backupcron/internal/telemetry"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrTooFrequent      = errors.New("schedule runs more than once per minute; use 0 for seconds to run at most once per minute")
	ErrDisabled         = errors.New("schedule is disabled")
)

type SchedulerStore interface {
	PutSchedule(ctx context.Context, id string, schedule []byte) error
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context) (map[string][]byte, error)
	RecordScheduleRun(ctx context.Context, scheduleID, runID string, payload []byte) error
	ListScheduleRuns(ctx context.Context, scheduleID string, limit int) ([][]byte, error)
}

// Handler performs the backup for a due schedule. It belongs to the backup
// engine; the service only decides when to call it.
type Handler func(ctx context.Context, schedule Schedule) (string, error)

// Dispatcher runs due backups off the ticker goroutine, one lane per
// connection. Submit must fail rather than queue when a lane is busy.
type Dispatcher interface {
	Submit(ctx context.Context, key string, task func(ctx context.Context) error, wait bool) error
}

type Options struct {
	Dispatcher       Dispatcher
	Horizon          time.Duration
	TickInterval     time.Duration
	AllowTooFrequent bool
	Now              func() time.Time
	Logger           *log.Logger
}

type Service struct {
	store   SchedulerStore
	handler Handler
	metrics *telemetry.Metrics
	opts    Options
	log     *log.Logger
	entropy *ulid.MonotonicEntropy
	idMu    sync.Mutex
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewService(store SchedulerStore, handler Handler, metrics *telemetry.Metrics, opts Options) *Service {
	if metrics == nil {
		metrics = &telemetry.Metrics{}
	}
	if opts.Horizon <= 0 {
		opts.Horizon = cronexpr.DefaultHorizon
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Service{
		store:   store,
		handler: handler,
		metrics: metrics,
		opts:    opts,
		log:     logger.WithPrefix("cron"),
		entropy: ulid.Monotonic(mrand.New(mrand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	if err := s.Reschedule(context.Background()); err != nil {
		s.log.Error("reschedule on start", "err", err)
	}
	s.wg.Add(1)
	go s.loop()
}

// Reschedule recomputes the next run of every enabled schedule from now.
// Runs missed while the service was down are skipped, not caught up.
func (s *Service) Reschedule(ctx context.Context) error {
	schedules, err := s.List(ctx, false)
	if err != nil {
		return err
	}
	now := s.opts.Now()
	for _, schedule := range schedules {
		next := s.nextRun(schedule, now)
		if sameInstant(next, schedule.State.NextRunAt) {
			continue
		}
		if schedule.State.NextRunAt != nil && schedule.State.NextRunAt.Before(now) {
			s.log.Info("skipping missed run", "schedule", schedule.ID, "missed", schedule.State.NextRunAt.Format(time.RFC3339))
		}
		schedule.State.NextRunAt = next
		if err := s.write(ctx, &schedule); err != nil {
			return err
		}
	}
	s.refreshActive(ctx)
	return nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	close(s.stop)
	s.wg.Wait()
}

func (s *Service) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(context.Background())
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	s.metrics.SchedulerTicks.Add(1)
	schedules, err := s.List(ctx, false)
	if err != nil {
		s.log.Error("list schedules", "err", err)
		return
	}
	now := s.opts.Now()
	for _, schedule := range schedules {
		if schedule.State.NextRunAt == nil {
			continue
		}
		if now.Before(*schedule.State.NextRunAt) {
			continue
		}
		s.dispatch(ctx, schedule, now)
	}
}

// dispatch hands a due schedule to the dispatcher, or runs it inline when
// there is none. The next run is claimed first so later ticks do not fire the
// same occurrence again while the backup is still running.
func (s *Service) dispatch(ctx context.Context, schedule Schedule, now time.Time) {
	if s.opts.Dispatcher == nil {
		s.execute(ctx, schedule, "scheduled")
		return
	}
	schedule.State.NextRunAt = s.nextRun(schedule, now)
	if err := s.write(ctx, &schedule); err != nil {
		s.log.Error("claim schedule", "schedule", schedule.ID, "err", err)
		return
	}
	err := s.opts.Dispatcher.Submit(ctx, schedule.ConnectionID, func(ctx context.Context) error {
		s.execute(ctx, schedule, "scheduled")
		return nil
	}, false)
	if err != nil {
		s.metrics.ScheduleOverlaps.Add(1)
		s.log.Warn("skipping run; previous backup still in progress", "schedule", schedule.ID, "connection", schedule.ConnectionID, "err", err)
	}
}

func (s *Service) execute(ctx context.Context, schedule Schedule, triggeredBy string) RunRecord {
	s.metrics.ScheduleDispatches.Add(1)
	started := s.opts.Now()
	s.metrics.LastDispatchUnix.Store(started.Unix())
	s.log.Info("backup dispatched", "schedule", schedule.ID, "connection", schedule.ConnectionID, "trigger", triggeredBy)

	result, err := "", error(nil)
	if s.handler != nil {
		result, err = s.handler(ctx, schedule)
	}
	finished := s.opts.Now()

	record := RunRecord{
		ID:           s.newRunID(started),
		ScheduleID:   schedule.ID,
		ConnectionID: schedule.ConnectionID,
		TriggeredBy:  triggeredBy,
		Status:       RunStatusOK,
		Result:       strings.TrimSpace(result),
		StartedAt:    started,
		FinishedAt:   finished,
	}
	if err != nil {
		s.metrics.ScheduleFailures.Add(1)
		record.Status = RunStatusError
		record.Error = err.Error()
		s.log.Warn("backup failed", "schedule", schedule.ID, "connection", schedule.ConnectionID, "err", err)
	}
	s.saveRunState(ctx, schedule.ID, record)
	if recErr := s.recordRun(ctx, record); recErr != nil {
		s.log.Error("record run", "schedule", schedule.ID, "err", recErr)
	}
	return record
}

// saveRunState applies the outcome of a run to the stored schedule as it is
// now, so edits made while the backup ran are kept. A schedule removed in the
// meantime stays removed.
func (s *Service) saveRunState(ctx context.Context, id string, record RunRecord) {
	current, err := s.Get(ctx, id)
	if errors.Is(err, ErrScheduleNotFound) {
		s.log.Info("schedule removed while backup ran", "schedule", id)
		return
	}
	if err != nil {
		s.log.Error("load schedule state", "schedule", id, "err", err)
		return
	}
	started := record.StartedAt
	current.State.LastRunAt = &started
	current.State.LastStatus = record.Status
	current.State.LastError = record.Error
	current.State.NextRunAt = nil
	if current.Enabled {
		current.State.NextRunAt = s.nextRun(*current, record.FinishedAt)
	}
	if err := s.write(ctx, current); err != nil {
		s.log.Error("save schedule state", "schedule", id, "err", err)
	}
}

func (s *Service) recordRun(ctx context.Context, record RunRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.store.RecordScheduleRun(ctx, record.ScheduleID, record.ID, data)
}

func (s *Service) newRunID(at time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

// Validate parses source and applies the service's frequency policy.
func (s *Service) Validate(source string) (cronexpr.Expression, error) {
	s.metrics.ExpressionsValidated.Add(1)
	expr, err := cronexpr.Parse(source)
	if err != nil {
		s.metrics.ExpressionsRejected.Add(1)
		return cronexpr.Expression{}, err
	}
	if cronexpr.TooFrequent(expr) {
		s.metrics.TooFrequentWarnings.Add(1)
		if !s.opts.AllowTooFrequent {
			s.metrics.ExpressionsRejected.Add(1)
			return cronexpr.Expression{}, fmt.Errorf("%w (%d runs per minute)", ErrTooFrequent, cronexpr.RunsPerMinute(expr))
		}
	}
	return expr, nil
}

// Put validates and stores schedule, recomputing its next run.
func (s *Service) Put(ctx context.Context, schedule Schedule) error {
	expr, err := s.Validate(schedule.Expr)
	if err != nil {
		return err
	}
	schedule.Expr = expr.Source()
	retention, err := cronexpr.ParseRetention(schedule.RetentionDays)
	if err != nil {
		return err
	}
	schedule.RetentionDays = retention.Days()
	if strings.TrimSpace(schedule.ConnectionID) == "" {
		return fmt.Errorf("connection id required")
	}
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	schedule.State.NextRunAt = nil
	if schedule.Enabled {
		schedule.State.NextRunAt = s.nextRun(schedule, s.opts.Now())
	}
	if err := s.write(ctx, &schedule); err != nil {
		return err
	}
	s.metrics.SchedulesSaved.Add(1)
	s.refreshActive(ctx)
	return nil
}

func (s *Service) write(ctx context.Context, schedule *Schedule) error {
	schedule.UpdatedAt = s.opts.Now()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = schedule.UpdatedAt
	}
	schedule.Version++
	bytes, err := json.Marshal(schedule)
	if err != nil {
		return err
	}
	return s.store.PutSchedule(ctx, schedule.ID, bytes)
}

// Apply creates or updates the single schedule of a connection.
func (s *Service) Apply(ctx context.Context, connectionID string, req Request) (Schedule, error) {
	source, err := ResolveRequest(req)
	if err != nil {
		return Schedule{}, err
	}
	schedule, err := s.GetByConnection(ctx, connectionID)
	switch {
	case errors.Is(err, ErrScheduleNotFound):
		schedule = &Schedule{ConnectionID: connectionID, S3CleanupOnRetention: true}
	case err != nil:
		return Schedule{}, err
	}
	schedule.Expr = source
	schedule.RetentionDays = req.RetentionDays
	schedule.Enabled = req.Enabled
	if req.S3CleanupOnRetention != nil {
		schedule.S3CleanupOnRetention = *req.S3CleanupOnRetention
	}
	if err := s.Put(ctx, *schedule); err != nil {
		return Schedule{}, err
	}
	saved, err := s.GetByConnection(ctx, connectionID)
	if err != nil {
		return Schedule{}, err
	}
	return *saved, nil
}

// ResolveRequest returns the expression text a request selects.
func ResolveRequest(req Request) (string, error) {
	preset := strings.ToLower(strings.TrimSpace(req.Preset))
	if preset != "" && preset != cronexpr.LabelCustom {
		expr, err := cronexpr.Resolve(preset)
		if err != nil {
			return "", err
		}
		return expr.Source(), nil
	}
	if strings.TrimSpace(req.Expr) == "" {
		return "", fmt.Errorf("custom schedule requires a cron expression")
	}
	return req.Expr, nil
}

func (s *Service) Remove(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.metrics.SchedulesRemoved.Add(1)
	s.refreshActive(ctx)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Schedule, error) {
	schedules, err := s.List(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, schedule := range schedules {
		if schedule.ID == id {
			found := schedule
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
}

func (s *Service) GetByConnection(ctx context.Context, connectionID string) (*Schedule, error) {
	schedules, err := s.List(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, schedule := range schedules {
		if schedule.ConnectionID == connectionID {
			found := schedule
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: connection %s", ErrScheduleNotFound, connectionID)
}

func (s *Service) List(ctx context.Context, includeDisabled bool) ([]Schedule, error) {
	raw, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Schedule, 0, len(raw))
	for key, bytes := range raw {
		var schedule Schedule
		if err := json.Unmarshal(bytes, &schedule); err != nil {
			s.log.Warn("skipping unreadable schedule", "key", key, "err", err)
			continue
		}
		if !includeDisabled && !schedule.Enabled {
			continue
		}
		out = append(out, schedule)
	}
	sort.Slice(out, func(i, j int) bool {
		left, right := out[i].State.NextRunAt, out[j].State.NextRunAt
		if left == nil && right == nil {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		if left == nil {
			return false
		}
		if right == nil {
			return true
		}
		return left.Before(*right)
	})
	return out, nil
}

func (s *Service) Enable(ctx context.Context, id string, enabled bool) error {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	schedule.Enabled = enabled
	return s.Put(ctx, *schedule)
}

func (s *Service) RunNow(ctx context.Context, id string, force bool) (RunRecord, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return RunRecord{}, err
	}
	if !force && !schedule.Enabled {
		return RunRecord{}, ErrDisabled
	}
	return s.execute(ctx, *schedule, "manual"), nil
}

// Preview recomputes the next count runs of a stored schedule from now.
func (s *Service) Preview(ctx context.Context, id string, count int) ([]time.Time, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	expr, err := cronexpr.Parse(schedule.Expr)
	if err != nil {
		return nil, err
	}
	return s.PreviewExpression(expr, s.opts.Now(), count), nil
}

// PreviewExpression computes upcoming runs within the service horizon.
func (s *Service) PreviewExpression(expr cronexpr.Expression, from time.Time, count int) []time.Time {
	s.metrics.PreviewsComputed.Add(1)
	runs := cronexpr.NextRuns(expr, from, count, s.opts.Horizon)
	if len(runs) == 0 {
		s.metrics.EmptyPreviews.Add(1)
	}
	return runs
}

func (s *Service) Runs(ctx context.Context, id string, limit int) ([]RunRecord, error) {
	raw, err := s.store.ListScheduleRuns(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(raw))
	for _, bytes := range raw {
		var record RunRecord
		if json.Unmarshal(bytes, &record) != nil {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *Service) nextRun(schedule Schedule, from time.Time) *time.Time {
	expr, err := cronexpr.Parse(schedule.Expr)
	if err != nil {
		s.log.Warn("unparseable stored schedule", "schedule", schedule.ID, "err", err)
		return nil
	}
	runs := cronexpr.NextRuns(expr, from, 1, s.opts.Horizon)
	if len(runs) == 0 {
		s.log.Warn("no occurrence within horizon", "schedule", schedule.ID, "expr", schedule.Expr, "horizon", s.opts.Horizon)
		return nil
	}
	return &runs[0]
}

func (s *Service) refreshActive(ctx context.Context) {
	schedules, err := s.List(ctx, false)
	if err != nil {
		return
	}
	s.metrics.ActiveSchedules.Store(int64(len(schedules)))
}
