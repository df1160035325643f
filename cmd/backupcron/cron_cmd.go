package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/grixate/backupcron/internal/cronexpr"
)

func cronCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{Use: "cron", Short: "Inspect cron expressions"}
	root.AddCommand(cronValidateCmd(opts))
	root.AddCommand(cronNextCmd(opts))
	root.AddCommand(cronPresetsCmd())
	return root
}

func cronValidateCmd(opts *rootOptions) *cobra.Command {
	var count int
	var fromFlag string
	cmd := &cobra.Command{
		Use:   "validate <expr>",
		Short: "Validate an expression and explain when it runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadCfg()
			if err != nil {
				return err
			}
			from, err := parseFrom(fromFlag)
			if err != nil {
				return err
			}
			if count <= 0 {
				count = cfg.Scheduler.PreviewCount
			}
			out := cmd.OutOrStdout()
			result := cronexpr.Validate(strings.Join(args, " "))
			if !result.Valid() {
				fmt.Fprintln(out, "Valid: false")
				fmt.Fprintf(out, "Reason: %s\n", result.Reason())
				return result.Err
			}
			expr := result.Expression
			fmt.Fprintf(out, "Expression: %s\n", expr)
			fmt.Fprintln(out, "Valid: true")
			fmt.Fprintf(out, "Frequency: %s\n", cronexpr.Classify(expr.Source()))
			fmt.Fprintf(out, "Runs: %s\n", cronexpr.Describe(expr))
			if cronexpr.TooFrequent(expr) {
				fmt.Fprintf(out, "Warning: runs %d times per minute; use 0 for seconds to run at most once per minute\n", cronexpr.RunsPerMinute(expr))
			}
			runs := cronexpr.NextRuns(expr, from, count, cfg.Scheduler.Horizon.Duration)
			printRuns(out, runs, from)

			div, err := cronexpr.CompareTraditional(expr, from, count)
			if err != nil {
				opts.logger.Debug("traditional comparison skipped", "err", err)
				return nil
			}
			if !div.Empty() {
				fmt.Fprintln(out, "Warning: a traditional cron daemon would run this differently (day-of-month and day-of-week are both required here)")
				for _, t := range div.OnlyTraditional {
					fmt.Fprintf(out, "  traditional only: %s\n", t.Format(time.RFC3339))
				}
				for _, t := range div.OnlyHere {
					fmt.Fprintf(out, "  here only: %s\n", t.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of upcoming runs to show")
	cmd.Flags().StringVar(&fromFlag, "from", "", "Start time (RFC3339); defaults to now")
	return cmd
}

func cronNextCmd(opts *rootOptions) *cobra.Command {
	var count int
	var fromFlag string
	var horizon time.Duration
	cmd := &cobra.Command{
		Use:   "next <expr>",
		Short: "Print the next run times of an expression",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadCfg()
			if err != nil {
				return err
			}
			expr, err := cronexpr.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			from, err := parseFrom(fromFlag)
			if err != nil {
				return err
			}
			if count <= 0 {
				count = cfg.Scheduler.PreviewCount
			}
			if horizon <= 0 {
				horizon = cfg.Scheduler.Horizon.Duration
			}
			out := cmd.OutOrStdout()
			runs := cronexpr.NextRuns(expr, from, count, horizon)
			if len(runs) == 0 {
				fmt.Fprintf(out, "No runs within %s\n", horizon)
				return nil
			}
			for _, t := range runs {
				fmt.Fprintln(out, t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of runs")
	cmd.Flags().StringVar(&fromFlag, "from", "", "Start time (RFC3339); defaults to now")
	cmd.Flags().DurationVar(&horizon, "horizon", 0, "Search horizon; defaults to scheduler.horizon")
	return cmd
}

func cronPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List schedule presets and retention periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tEXPRESSION\tDESCRIPTION")
			for _, p := range cronexpr.Presets() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Expression, p.Description)
			}
			_ = tw.Flush()

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Quick custom expressions:")
			tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, p := range cronexpr.QuickPresets() {
				fmt.Fprintf(tw, "  %s\t%s\t%s\n", p.Label, p.Expression, p.Description)
			}
			_ = tw.Flush()

			fmt.Fprintln(out)
			periods := make([]string, 0, 4)
			for _, r := range cronexpr.RetentionPeriods() {
				label := r.String()
				if r == cronexpr.DefaultRetention {
					label += " (default)"
				}
				periods = append(periods, label)
			}
			fmt.Fprintf(out, "Retention: %s\n", strings.Join(periods, ", "))
			return nil
		},
	}
}

func parseFrom(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Now(), nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--from: %w", err)
	}
	return parsed, nil
}

func printRuns(out io.Writer, runs []time.Time, from time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "Next runs: none within the horizon")
		return
	}
	fmt.Fprintln(out, "Next runs:")
	for _, t := range runs {
		fmt.Fprintf(out, "  %s (%s)\n", t.Format(time.RFC3339), humanize.RelTime(t, from, "ago", "from now"))
	}
}
