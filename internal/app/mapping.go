package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailbot/internal/config"
	"mailbot/internal/dispatch"
	"mailbot/internal/maintenance"
	"mailbot/internal/observability/ops"
	"mailbot/internal/report"
	"mailbot/internal/scheduler"
	"mailbot/internal/storage"
	logx "mailbot/pkg/logx"
)

const defaultPollTimeout = 10 * time.Second

// groupLogID parses telegram.group_log. Empty or malformed means no log chat.
func groupLogID(cfg *config.Config) int64 {
	s := strings.TrimSpace(cfg.Telegram.GroupLog)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapLogging(cfg *config.Config) logx.Config {
	chatID := groupLogID(cfg)
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			// an enabled sink without a target only warns on every Apply
			Enabled:    cfg.Logging.Telegram.Enabled && chatID != 0,
			ChatID:     chatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = "./data/mailbot.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN), MaxOpenConns: sc.MaxOpenConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationInRange("scheduler.poll_interval", cfg.Scheduler.PollInterval,
		scheduler.DefaultPollInterval, config.MinPollInterval, config.MaxPollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	commit, err := config.ParseDurationOrDefault("scheduler.commit_timeout", cfg.Scheduler.CommitTimeout, scheduler.DefaultCommitTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:       cfg.Scheduler.IsEnabled(),
		PollInterval:  poll,
		CommitTimeout: commit,
	}, nil
}

func mapDispatch(cfg *config.Config) (dispatch.Config, error) {
	timeout, err := config.ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		RatePerSec:  cfg.Dispatch.RatePerSec,
		SendTimeout: timeout,
	}, nil
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profiles stream for up to 30s
	write, err := config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 35*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	addr := strings.TrimSpace(oc.Addr)
	if addr == "" {
		addr = ops.DefaultAddr
	}
	return ops.Config{
		Enabled:      oc.Enabled,
		Addr:         addr,
		Pprof:        oc.Pprof,
		Token:        strings.TrimSpace(oc.Token),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

func mapMaintenance(cfg *config.Config) (maintenance.Config, error) {
	mc := cfg.Maintenance
	after, err := config.ParseDurationOrDefault("maintenance.prune_after", mc.PruneAfter, maintenance.DefaultPruneAfter)
	if err != nil {
		return maintenance.Config{}, err
	}
	return maintenance.Config{
		BackupCron: mc.BackupCron,
		BackupDir:  mc.BackupDir,
		PruneCron:  mc.PruneCron,
		PruneAfter: after,
	}, nil
}

func mapReport(cfg *config.Config) report.Config {
	return report.Config{URL: cfg.Report.AMQPURL, Queue: cfg.Report.Queue}
}

// validate extends config.Validate with checks that need component packages.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapOps(cfg); err != nil {
		return err
	}
	if err := maintenance.ValidateSpec(cfg.Maintenance.BackupCron); err != nil {
		return fmt.Errorf("maintenance.backup_cron: %w", err)
	}
	if err := maintenance.ValidateSpec(cfg.Maintenance.PruneCron); err != nil {
		return fmt.Errorf("maintenance.prune_cron: %w", err)
	}
	if _, err := mapMaintenance(cfg); err != nil {
		return err
	}
	return nil
}

// OpenStore opens the configured store. campaignctl shares it with the bot.
func OpenStore(cfg *config.Config, log logx.Logger) (*storage.Store, error) {
	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}
