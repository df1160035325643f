package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/grixate/backupcron/internal/app"
	"github.com/grixate/backupcron/internal/config"
)

func daemonCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run due backups until interrupted",
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

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runtime.StartDaemon(ctx)
		},
	}
}

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backupcron status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadCfg()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st := config.BuildStatus(cfg)
			fmt.Fprintf(out, "Config: %s [%v]\n", st.ConfigPath, st.ConfigOK)
			fmt.Fprintf(out, "Data root: %s [%v]\n", st.DataRoot, st.DataRootOK)
			fmt.Fprintf(out, "Storage: %s %s [%v]\n", st.Backend, st.DBPath, st.DBOK)
			fmt.Fprintf(out, "Scheduler: tick=%ds horizon=%s allowTooFrequent=%v\n",
				cfg.Scheduler.TickIntervalSec, cfg.Scheduler.Horizon, cfg.Scheduler.AllowTooFrequent)
			fmt.Fprintf(out, "Defaults: preset=%s retentionDays=%d\n", cfg.Defaults.Preset, cfg.Defaults.RetentionDays)
			fmt.Fprintf(out, "Runner: %s timeoutSec=%d\n", orDash(st.Runner), cfg.Runner.TimeoutSec)
			fmt.Fprintf(out, "Metrics HTTP: enabled=%v listen=%s localhostOnly=%v authTokenSet=%v\n",
				cfg.Runtime.MetricsHTTP.Enabled, cfg.Runtime.MetricsHTTP.ListenAddr, cfg.Runtime.MetricsHTTP.LocalhostOnly, strings.TrimSpace(cfg.Runtime.MetricsHTTP.AuthToken) != "")
			if st.Problems != nil {
				fmt.Fprintf(out, "Config problems:\n%v\n", st.Problems)
				return nil
			}
			if !st.DBOK {
				return nil
			}
			service, _, closeStore, err := opts.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			all, err := service.List(context.Background(), true)
			if err != nil {
				return err
			}
			enabled := 0
			for _, s := range all {
				if s.Enabled {
					enabled++
				}
			}
			fmt.Fprintf(out, "Schedules: %d (%d enabled)\n", len(all), enabled)
			return nil
		},
	}
}
