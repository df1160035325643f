package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/grixate/backupcron/internal/config"
	"github.com/grixate/backupcron/internal/cron"
	"github.com/grixate/backupcron/internal/runtime/actor"
	bboltstore "github.com/grixate/backupcron/internal/storage/bbolt"
	sqlitestore "github.com/grixate/backupcron/internal/storage/sqlite"
	"github.com/grixate/backupcron/internal/telemetry"
)

// Store is a schedule store that owns an open database.
type Store interface {
	cron.SchedulerStore
	Close() error
}

type Runtime struct {
	Config     config.Config
	Store      Store
	Cron       *cron.Service
	Lanes      *actor.System
	Metrics    *telemetry.Metrics
	log        *log.Logger
	cancel     context.CancelFunc
	metricsSrv *http.Server
}

// OpenStore opens the configured backend.
func OpenStore(cfg config.Config) (Store, error) {
	path := config.DBPath(cfg)
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		store, err := sqlitestore.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendBBolt, "":
		store, err := bboltstore.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

func BuildRuntime(cfg config.Config, logger *log.Logger) (*Runtime, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	metrics := &telemetry.Metrics{}
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	runner := NewCommandRunner(cfg.Runner.Command, cfg.RunnerTimeout())
	// One lane per connection with no queue: a backup that is still running
	// when its next occurrence comes due makes that occurrence a skip.
	lanes := actor.NewSystem(0, 10*time.Minute)
	lanes.SetLaneHooks(func() { metrics.ActiveLanes.Add(1) }, func() { metrics.ActiveLanes.Add(-1) })

	runtime := &Runtime{Config: cfg, Store: store, Lanes: lanes, Metrics: metrics, log: logger}
	runtime.Cron = cron.NewService(store, runner.Handler(), metrics, cron.Options{
		Dispatcher:       lanes,
		Horizon:          cfg.Scheduler.Horizon.Duration,
		TickInterval:     cfg.TickInterval(),
		AllowTooFrequent: cfg.Scheduler.AllowTooFrequent,
		Logger:           logger,
	})
	return runtime, nil
}

// StartDaemon runs the scheduler until ctx is cancelled.
func (r *Runtime) StartDaemon(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if strings.TrimSpace(r.Config.Runner.Command) == "" {
		r.log.Warn("no runner command configured; due schedules will be recorded as failed")
	}
	r.Cron.Start()
	if err := r.startMetricsHTTP(); err != nil {
		r.Cron.Stop()
		return err
	}
	r.log.Info("scheduler started", "backend", r.Config.Storage.Backend, "db", config.DBPath(r.Config), "active", r.Metrics.ActiveSchedules.Load())

	<-ctx.Done()
	return nil
}

func (r *Runtime) Shutdown() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.metricsSrv != nil {
		_ = r.metricsSrv.Shutdown(context.Background())
	}
	r.Cron.Stop()
	_ = r.Lanes.Stop()
	return r.Store.Close()
}

func (r *Runtime) metricsHandler() http.Handler {
	authToken := strings.TrimSpace(r.Config.Runtime.MetricsHTTP.AuthToken)
	localhostOnly := r.Config.Runtime.MetricsHTTP.LocalhostOnly
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, req *http.Request) {
		if localhostOnly {
			host, _, err := net.SplitHostPort(req.RemoteAddr)
			if err == nil {
				ip := net.ParseIP(host)
				if ip == nil || !ip.IsLoopback() {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}
		}
		if authToken != "" {
			token := req.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(token), []byte("Bearer "+authToken)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(telemetry.PrometheusText(r.Metrics.Snapshot())))
	})
	return mux
}

func (r *Runtime) startMetricsHTTP() error {
	if r == nil || r.Metrics == nil || !r.Config.Runtime.MetricsHTTP.Enabled {
		return nil
	}
	listenAddr := strings.TrimSpace(r.Config.Runtime.MetricsHTTP.ListenAddr)
	if listenAddr == "" {
		return nil
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("metrics http: %w", err)
	}
	r.metricsSrv = &http.Server{Handler: r.metricsHandler()}
	go func() {
		if err := r.metricsSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			r.log.Error("metrics http stopped", "err", err)
		}
	}()
	r.log.Info("metrics endpoint listening", "addr", listener.Addr().String())
	return nil
}
