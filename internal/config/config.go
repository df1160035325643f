package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/grixate/backupcron/internal/cronexpr"
)

type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Defaults  DefaultsConfig  `json:"defaults"`
	Runner    RunnerConfig    `json:"runner"`
	Log       LogConfig       `json:"log"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

type StorageConfig struct {
	Backend string `json:"backend"`
	DBPath  string `json:"dbPath"`
}

type SchedulerConfig struct {
	TickIntervalSec  int           `json:"tickIntervalSec"`
	Horizon          DurationValue `json:"horizon"`
	PreviewCount     int           `json:"previewCount"`
	AllowTooFrequent bool          `json:"allowTooFrequent"`
}

// DefaultsConfig holds what a new schedule gets when the user picks nothing.
type DefaultsConfig struct {
	Preset        string `json:"preset"`
	RetentionDays int    `json:"retentionDays"`
}

// RunnerConfig describes the hook run for every due schedule. The command is
// run through /bin/sh -c with the schedule exported in BACKUPCRON_* variables.
type RunnerConfig struct {
	Command    string `json:"command"`
	TimeoutSec int    `json:"timeoutSec"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type RuntimeConfig struct {
	MetricsHTTP MetricsHTTPRuntimeConfig `json:"metricsHttp"`
}

type MetricsHTTPRuntimeConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddr    string `json:"listenAddr"`
	AuthToken     string `json:"authToken,omitempty"`
	LocalhostOnly bool   `json:"localhostOnly"`
}

type DurationValue struct {
	time.Duration
}

const (
	BackendBBolt  = "bbolt"
	BackendSQLite = "sqlite"
)

var supportedBackends = []string{BackendBBolt, BackendSQLite}

func (d DurationValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DurationValue) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, parseErr := time.ParseDuration(asString)
		if parseErr != nil {
			return parseErr
		}
		d.Duration = parsed
		return nil
	}

	var asNumber int64
	if err := json.Unmarshal(data, &asNumber); err == nil {
		d.Duration = time.Duration(asNumber)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", string(data))
}

func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend: BackendBBolt,
			DBPath:  filepath.Join(DataRoot(), "backupcron.db"),
		},
		Scheduler: SchedulerConfig{
			TickIntervalSec:  1,
			Horizon:          DurationValue{Duration: cronexpr.DefaultHorizon},
			PreviewCount:     5,
			AllowTooFrequent: false,
		},
		Defaults: DefaultsConfig{
			Preset:        cronexpr.DefaultPreset,
			RetentionDays: cronexpr.DefaultRetention.Days(),
		},
		Runner: RunnerConfig{
			TimeoutSec: 3600,
		},
		Log: LogConfig{
			Level: "info",
		},
		Runtime: RuntimeConfig{
			MetricsHTTP: MetricsHTTPRuntimeConfig{
				Enabled:       false,
				ListenAddr:    "127.0.0.1:9464",
				LocalhostOnly: true,
			},
		},
	}
}

func HomeDir() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return ".backupcron"
	}
	return filepath.Join(h, ".backupcron")
}

func ConfigPath() string {
	return filepath.Join(HomeDir(), "config.json")
}

func DataRoot() string {
	return filepath.Join(HomeDir(), "data")
}

// DBPath resolves the store file, picking a backend-specific default when
// none is configured.
func DBPath(cfg Config) string {
	if strings.TrimSpace(cfg.Storage.DBPath) == "" {
		if cfg.Storage.Backend == BackendSQLite {
			return filepath.Join(DataRoot(), "backupcron.sqlite")
		}
		return filepath.Join(DataRoot(), "backupcron.db")
	}
	return expandPath(cfg.Storage.DBPath)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		h, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(h, path[2:])
		}
	}
	return path
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = ConfigPath()
	}
	path = expandPath(path)
	bytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			normalize(&cfg)
			return cfg, nil
		}
		return cfg, err
	}
	if err := json.Unmarshal(bytes, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if path == "" {
		path = ConfigPath()
	}
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func normalize(cfg *Config) {
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendBBolt
	}
	cfg.Defaults.Preset = strings.ToLower(strings.TrimSpace(cfg.Defaults.Preset))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
}

func applyEnvOverrides(cfg *Config) {
	env := map[string]*string{
		"BACKUPCRON_STORAGE_BACKEND":          &cfg.Storage.Backend,
		"BACKUPCRON_DB_PATH":                  &cfg.Storage.DBPath,
		"BACKUPCRON_DEFAULT_PRESET":           &cfg.Defaults.Preset,
		"BACKUPCRON_RUNNER_COMMAND":           &cfg.Runner.Command,
		"BACKUPCRON_LOG_LEVEL":                &cfg.Log.Level,
		"BACKUPCRON_METRICS_HTTP_LISTEN_ADDR": &cfg.Runtime.MetricsHTTP.ListenAddr,
		"BACKUPCRON_METRICS_HTTP_AUTH_TOKEN":  &cfg.Runtime.MetricsHTTP.AuthToken,
	}
	for key, target := range env {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*target = value
		}
	}

	ints := map[string]*int{
		"BACKUPCRON_TICK_INTERVAL_SEC":      &cfg.Scheduler.TickIntervalSec,
		"BACKUPCRON_PREVIEW_COUNT":          &cfg.Scheduler.PreviewCount,
		"BACKUPCRON_DEFAULT_RETENTION_DAYS": &cfg.Defaults.RetentionDays,
		"BACKUPCRON_RUNNER_TIMEOUT_SEC":     &cfg.Runner.TimeoutSec,
	}
	for key, target := range ints {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
				*target = parsed
			}
		}
	}

	bools := map[string]*bool{
		"BACKUPCRON_ALLOW_TOO_FREQUENT":         &cfg.Scheduler.AllowTooFrequent,
		"BACKUPCRON_METRICS_HTTP_ENABLED":       &cfg.Runtime.MetricsHTTP.Enabled,
		"BACKUPCRON_METRICS_HTTP_LOCALHOST_ONLY": &cfg.Runtime.MetricsHTTP.LocalhostOnly,
	}
	for key, target := range bools {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			if parsed, err := strconv.ParseBool(value); err == nil {
				*target = parsed
			}
		}
	}

	if value := strings.TrimSpace(os.Getenv("BACKUPCRON_HORIZON")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			cfg.Scheduler.Horizon = DurationValue{Duration: parsed}
		}
	}
}

func SupportedBackends() []string {
	out := make([]string, len(supportedBackends))
	copy(out, supportedBackends)
	return out
}

// Validate reports every problem in cfg at once.
func Validate(cfg Config) error {
	var errs []error
	switch cfg.Storage.Backend {
	case BackendBBolt, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported (use %s)", cfg.Storage.Backend, strings.Join(supportedBackends, " or ")))
	}
	if cfg.Scheduler.TickIntervalSec <= 0 {
		errs = append(errs, errors.New("scheduler.tickIntervalSec must be positive"))
	}
	if cfg.Scheduler.Horizon.Duration <= 0 {
		errs = append(errs, errors.New("scheduler.horizon must be positive"))
	}
	if cfg.Scheduler.PreviewCount <= 0 || cfg.Scheduler.PreviewCount > 100 {
		errs = append(errs, errors.New("scheduler.previewCount must be between 1 and 100"))
	}
	if _, err := cronexpr.Resolve(cfg.Defaults.Preset); err != nil {
		errs = append(errs, fmt.Errorf("defaults.preset: %w", err))
	}
	if _, err := cronexpr.ParseRetention(cfg.Defaults.RetentionDays); err != nil {
		errs = append(errs, fmt.Errorf("defaults.retentionDays: %w", err))
	}
	if cfg.Runner.TimeoutSec < 0 {
		errs = append(errs, errors.New("runner.timeoutSec must not be negative"))
	}
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if cfg.Runtime.MetricsHTTP.Enabled && strings.TrimSpace(cfg.Runtime.MetricsHTTP.ListenAddr) == "" {
		errs = append(errs, errors.New("runtime.metricsHttp.listenAddr is required when enabled"))
	}
	return errors.Join(errs...)
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalSec) * time.Second
}

func (c Config) RunnerTimeout() time.Duration {
	return time.Duration(c.Runner.TimeoutSec) * time.Second
}
