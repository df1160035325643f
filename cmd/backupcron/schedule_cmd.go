package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/grixate/backupcron/internal/app"
	"github.com/grixate/backupcron/internal/cron"
	"github.com/grixate/backupcron/internal/cronexpr"
	"github.com/grixate/backupcron/internal/manifest"
	"github.com/grixate/backupcron/internal/storage/migrate"
)

func scheduleCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{Use: "schedule", Short: "Manage backup schedules"}

	var includeDisabled bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List schedules by next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, closeStore, err := opts.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			schedules, err := service.List(context.Background(), includeDisabled)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(schedules) == 0 {
				fmt.Fprintln(out, "No schedules")
				return nil
			}
			now := time.Now()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCONNECTION\tFREQUENCY\tENABLED\tRETENTION\tNEXT RUN\tLAST STATUS")
			for _, s := range schedules {
				next := "-"
				if s.State.NextRunAt != nil {
					next = humanize.RelTime(*s.State.NextRunAt, now, "ago", "from now")
				}
				retention, _ := cronexpr.ParseRetention(s.RetentionDays)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\t%s\t%s\n", s.ID, s.ConnectionID, s.Frequency(), s.Enabled, retention, next, orDash(s.State.LastStatus))
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVarP(&includeDisabled, "all", "a", false, "Include disabled schedules")
	root.AddCommand(list)

	root.AddCommand(scheduleSetCmd(opts))

	var disable bool
	enable := &cobra.Command{
		Use:   "enable <schedule_id>",
		Short: "Enable or disable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, closeStore, err := opts.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			return service.Enable(context.Background(), args[0], !disable)
		},
	}
	enable.Flags().BoolVar(&disable, "disable", false, "Disable instead of enable")
	root.AddCommand(enable)

	root.AddCommand(&cobra.Command{
		Use:   "remove <schedule_id>",
		Short: "Remove a schedule and its run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, closeStore, err := opts.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			return service.Remove(context.Background(), args[0])
		},
	})

	var previewCount int
	preview := &cobra.Command{
		Use:   "preview <schedule_id>",
		Short: "Show the upcoming runs of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, cfg, closeStore, err := opts.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			if previewCount <= 0 {
				previewCount = cfg.Scheduler.PreviewCount
			}
			runs, err := service.Preview(context.Background(), args[0], previewCount)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs, time.Now())
			return nil
		},
	}
	preview.Flags().IntVarP(&previewCount, "count", "n", 0, "Number of runs")
	root.AddCommand(preview)

	var limit int
	runs := &cobra.Command{
		Use:   "runs <schedule_id>",
		Short: "Show recent runs of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, closeStore, err := opts.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			records, err := service.Runs(context.Background(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No runs")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tTRIGGER\tSTATUS\tDURATION\tDETAIL")
			for _, r := range records {
				detail := r.Result
				if r.Error != "" {
					detail = r.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Format(time.RFC3339), r.TriggeredBy, r.Status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), orDash(detail))
			}
			return tw.Flush()
		},
	}
	runs.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum runs to show")
	root.AddCommand(runs)

	var force bool
	run := &cobra.Command{
		Use:   "run <schedule_id>",
		Short: "Run a schedule's backup command now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadCfg()
			if err != nil {
				return err
			}
			runtime, err := app.BuildRuntime(cfg, opts.logger)
			if err != nil {
				return err
			}
			defer runtime.Shutdown()
			record, err := runtime.Cron.RunNow(context.Background(), args[0], force)
			if err != nil {
				return err
			}
			if record.Status != cron.RunStatusOK {
				return fmt.Errorf("run %s failed: %s", record.ID, record.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s ok %s\n", record.ID, record.Result)
			return nil
		},
	}
	run.Flags().BoolVarP(&force, "force", "f", false, "Run even if disabled")
	root.AddCommand(run)

	root.AddCommand(&cobra.Command{
		Use:   "apply <manifest.yaml>",
		Short: "Create or update schedules from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			service, _, closeStore, err := opts.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			saved, err := manifest.Apply(context.Background(), service, m)
			for _, s := range saved {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s (%s, %s)\n", s.ConnectionID, s.Frequency(), s.Expr)
			}
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "import <legacy.db>",
		Short: "Import backup_schedules from an older SQLite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, closeStore, err := opts.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			report, err := migrate.ImportLegacy(context.Background(), args[0], service, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d schedules\n", report.SchedulesImported)
			for _, skipped := range report.Skipped {
				fmt.Fprintf(out, "Skipped %s: %s\n", orDash(skipped.ConnectionID), skipped.Reason)
			}
			for _, conn := range report.Divergent {
				fmt.Fprintf(out, "Warning: %s now requires both day-of-month and day-of-week to match\n", conn)
			}
			return nil
		},
	})

	return root
}

func scheduleSetCmd(opts *rootOptions) *cobra.Command {
	var preset, expr string
	var retention int
	var disabled, noS3Cleanup bool
	cmd := &cobra.Command{
		Use:   "set <connection_id>",
		Short: "Create or update the schedule of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, cfg, closeStore, err := opts.openService()
			if err != nil {
				return err
			}
			defer closeStore()

			req := cron.Request{
				Preset:        preset,
				Expr:          expr,
				RetentionDays: retention,
				Enabled:       !disabled,
			}
			if strings.TrimSpace(req.Expr) != "" && strings.TrimSpace(req.Preset) == "" {
				req.Preset = cronexpr.LabelCustom
			}
			if strings.TrimSpace(req.Preset) == "" {
				req.Preset = cfg.Defaults.Preset
			}
			if req.RetentionDays == 0 {
				req.RetentionDays = cfg.Defaults.RetentionDays
			}
			if cmd.Flags().Changed("no-s3-cleanup") {
				cleanup := !noS3Cleanup
				req.S3CleanupOnRetention = &cleanup
			}
			schedule, err := service.Apply(context.Background(), args[0], req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Schedule %s for %s: %s (%s)\n", schedule.ID, schedule.ConnectionID, schedule.Frequency(), schedule.Expr)
			if schedule.State.NextRunAt != nil {
				fmt.Fprintf(out, "Next run: %s\n", schedule.State.NextRunAt.Format(time.RFC3339))
			} else if schedule.Enabled {
				fmt.Fprintln(out, "Warning: no run within the scheduling horizon")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "Preset name (test, hourly, daily, weekly, monthly, custom)")
	cmd.Flags().StringVarP(&expr, "cron", "c", "", "Six-field cron expression")
	cmd.Flags().IntVarP(&retention, "retention", "r", 0, "Retention in days (7, 30, 90, 365)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Save the schedule disabled")
	cmd.Flags().BoolVar(&noS3Cleanup, "no-s3-cleanup", false, "Keep S3 copies when local backups expire")
	return cmd
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
