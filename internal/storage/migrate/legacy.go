// Package migrate imports schedules kept by the earlier backup manager, which
// stored one row per connection in a backup_schedules table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/grixate/backupcron/internal/cron"
	"github.com/grixate/backupcron/internal/cronexpr"
)

// Report summarizes an import. Rows are never partially imported: a row with
// an invalid expression or retention is skipped with its reason.
type Report struct {
	SchedulesImported int
	Skipped           []Skipped
	// Divergent lists connections whose expression picks different instants
	// than a traditional cron would, usually because both day fields are set.
	Divergent []string
}

type Skipped struct {
	ConnectionID string
	Reason       string
}

type legacyRow struct {
	connectionID  string
	enabled       bool
	expr          string
	retentionDays sql.NullInt64
}

// ImportLegacy reads backup_schedules from the SQLite database at dbPath and
// applies every row to service. from anchors the divergence check.
func ImportLegacy(ctx context.Context, dbPath string, service *cron.Service, from time.Time) (Report, error) {
	report := Report{}
	if _, err := os.Stat(dbPath); err != nil {
		return report, fmt.Errorf("legacy database: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return report, err
	}
	defer db.Close()

	rows, err := loadLegacyRows(ctx, db)
	if err != nil {
		return report, err
	}

	for _, row := range rows {
		if strings.TrimSpace(row.connectionID) == "" {
			report.Skipped = append(report.Skipped, Skipped{Reason: "missing connection id"})
			continue
		}
		req := cron.Request{
			Preset:  cronexpr.LabelCustom,
			Expr:    row.expr,
			Enabled: row.enabled,
		}
		if row.retentionDays.Valid {
			req.RetentionDays = int(row.retentionDays.Int64)
		}
		if _, err := service.Apply(ctx, row.connectionID, req); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Skipped = append(report.Skipped, Skipped{ConnectionID: row.connectionID, Reason: err.Error()})
			continue
		}
		report.SchedulesImported++

		if expr, err := cronexpr.Parse(row.expr); err == nil {
			div, err := cronexpr.CompareTraditional(expr, from, 5)
			if err == nil && !div.Empty() {
				report.Divergent = append(report.Divergent, row.connectionID)
			}
		}
	}
	return report, nil
}

func loadLegacyRows(ctx context.Context, db *sql.DB) ([]legacyRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT connection_id, enabled, cron_schedule, retention_days FROM backup_schedules ORDER BY connection_id`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, errors.New("legacy database has no backup_schedules table")
		}
		return nil, err
	}
	defer rows.Close()

	var out []legacyRow
	for rows.Next() {
		var row legacyRow
		var expr sql.NullString
		if err := rows.Scan(&row.connectionID, &row.enabled, &expr, &row.retentionDays); err != nil {
			return nil, err
		}
		row.expr = expr.String
		out = append(out, row)
	}
	return out, rows.Err()
}
