// Package manifest loads a declarative list of backup schedules from YAML and
// applies it to the schedule service.
//
//	schedules:
//	  - connection: orders-db
//	    preset: daily
//	    retention_days: 30
//	  - connection: analytics
//	    cron: "0 */30 * * * *"
//	    enabled: false
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/grixate/backupcron/internal/cron"
	"github.com/grixate/backupcron/internal/cronexpr"
)

type Manifest struct {
	Schedules []Entry `yaml:"schedules"`
}

type Entry struct {
	Connection    string `yaml:"connection"`
	Preset        string `yaml:"preset,omitempty"`
	Cron          string `yaml:"cron,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty"`
	Enabled       *bool  `yaml:"enabled,omitempty"`
	S3Cleanup     *bool  `yaml:"s3_cleanup,omitempty"`
}

// Request converts the entry into a service request. Entries are enabled
// unless they say otherwise.
func (e Entry) Request() cron.Request {
	req := cron.Request{
		Preset:               e.Preset,
		Expr:                 e.Cron,
		RetentionDays:        e.RetentionDays,
		Enabled:              true,
		S3CleanupOnRetention: e.S3Cleanup,
	}
	if req.Preset == "" && req.Expr != "" {
		req.Preset = cronexpr.LabelCustom
	}
	if e.Enabled != nil {
		req.Enabled = *e.Enabled
	}
	return req
}

func Load(path string) (Manifest, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	return Parse(bytes)
}

func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks every entry without touching the store, so a manifest is
// applied either fully or not at all as far as input errors go.
func (m Manifest) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, entry := range m.Schedules {
		name := strings.TrimSpace(entry.Connection)
		if name == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: connection is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate connection %q", i, name))
		}
		seen[name] = true
		if entry.Preset != "" && entry.Cron != "" && !strings.EqualFold(entry.Preset, cronexpr.LabelCustom) {
			errs = append(errs, fmt.Errorf("schedules[%d]: set either preset or cron, not both", i))
			continue
		}
		source, err := cron.ResolveRequest(entry.Request())
		if err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
			continue
		}
		if _, err := cronexpr.Parse(source); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
		}
		if _, err := cronexpr.ParseRetention(entry.RetentionDays); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Apply writes every entry through service. It stops at the first error and
// returns the schedules saved so far.
func Apply(ctx context.Context, service *cron.Service, m Manifest) ([]cron.Schedule, error) {
	out := make([]cron.Schedule, 0, len(m.Schedules))
	for _, entry := range m.Schedules {
		schedule, err := service.Apply(ctx, strings.TrimSpace(entry.Connection), entry.Request())
		if err != nil {
			return out, fmt.Errorf("apply %s: %w", entry.Connection, err)
		}
		out = append(out, schedule)
	}
	return out, nil
}
