package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MinPollInterval = time.Second
	MaxPollInterval = 10 * time.Minute
)

// Validate checks values that the strict decoder cannot. It never mutates cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			add(fmt.Errorf("telegram.group_log: must be a numeric chat id"))
		}
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		add(fmt.Errorf("logging.telegram.rate_per_sec: must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn is required when storage.driver=%s", cfg.Storage.Driver))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	_, err = ParseDurationInRange("scheduler.poll_interval", cfg.Scheduler.PollInterval,
		time.Minute, MinPollInterval, MaxPollInterval)
	add(err)
	_, err = ParseDurationField("scheduler.commit_timeout", cfg.Scheduler.CommitTimeout)
	add(err)

	if cfg.Dispatch.Workers < 0 {
		add(fmt.Errorf("dispatch.workers: must be >= 0"))
	}
	if cfg.Dispatch.RatePerSec < 0 {
		add(fmt.Errorf("dispatch.rate_per_sec: must be >= 0"))
	}
	_, err = ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	add(err)

	for _, f := range []struct{ path, raw string }{
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
		{"maintenance.prune_after", cfg.Maintenance.PruneAfter},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}
	if strings.TrimSpace(cfg.Maintenance.BackupCron) != "" && strings.TrimSpace(cfg.Maintenance.BackupDir) == "" {
		add(fmt.Errorf("maintenance.backup_dir is required when backup_cron is set"))
	}

	return errors.Join(errs...)
}
