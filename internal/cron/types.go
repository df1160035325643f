package cron

import (
	"time"

	"github.com/grixate/backupcron/internal/cronexpr"
)

// Schedule is the automatic backup cadence of one database connection.
type Schedule struct {
	ID                   string        `json:"id"`
	ConnectionID         string        `json:"connection_id"`
	Enabled              bool          `json:"enabled"`
	Expr                 string        `json:"cron_schedule"`
	RetentionDays        int           `json:"retention_days"`
	S3CleanupOnRetention bool          `json:"s3_cleanup_on_retention"`
	State                ScheduleState `json:"state"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
	Version              int           `json:"version"`
}

type ScheduleState struct {
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Frequency is the friendly label of the stored expression.
func (s Schedule) Frequency() string {
	return cronexpr.Classify(s.Expr)
}

// Request carries what a user picks when creating or editing a schedule.
// A named Preset wins over Expr; Preset "custom" or empty uses Expr.
type Request struct {
	Preset               string
	Expr                 string
	RetentionDays        int
	Enabled              bool
	S3CleanupOnRetention *bool
}

const (
	RunStatusOK    = "ok"
	RunStatusError = "error"
)

type RunRecord struct {
	ID           string    `json:"id"`
	ScheduleID   string    `json:"schedule_id"`
	ConnectionID string    `json:"connection_id"`
	TriggeredBy  string    `json:"triggered_by"`
	Status       string    `json:"status"`
	Result       string    `json:"result,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
