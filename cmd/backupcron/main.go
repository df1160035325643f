package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/grixate/backupcron/internal/app"
	"github.com/grixate/backupcron/internal/config"
	"github.com/grixate/backupcron/internal/cron"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logger     *log.Logger
}

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "backupcron",
	})
	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(logger *log.Logger) *cobra.Command {
	opts := &rootOptions{logger: logger}
	root := &cobra.Command{
		Use:           "backupcron",
		Short:         "backupcron - cron schedules for database backups",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, args []string) error { return cmd.Help() },
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(cronCmd(opts))
	root.AddCommand(scheduleCmd(opts))
	root.AddCommand(daemonCmd(opts))
	root.AddCommand(statusCmd(opts))
	return root
}

// loadCfg loads the config and applies the --log-level flag on top of it.
func (o *rootOptions) loadCfg() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if strings.TrimSpace(o.logLevel) != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(o.logLevel))
	}
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return cfg, fmt.Errorf("log level: %w", err)
	}
	o.logger.SetLevel(level)
	return cfg, nil
}

// openService opens the configured store and a service without a runner.
// The returned func closes the store.
func (o *rootOptions) openService() (*cron.Service, config.Config, func(), error) {
	cfg, err := o.loadCfg()
	if err != nil {
		return nil, cfg, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, cfg, nil, err
	}
	store, err := app.OpenStore(cfg)
	if err != nil {
		return nil, cfg, nil, err
	}
	service := cron.NewService(store, nil, nil, cron.Options{
		Horizon:          cfg.Scheduler.Horizon.Duration,
		AllowTooFrequent: cfg.Scheduler.AllowTooFrequent,
		Logger:           o.logger,
	})
	return service, cfg, func() { _ = store.Close() }, nil
}
