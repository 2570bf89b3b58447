package config

import (
	"reflect"
	"sort"
	"strings"

	logx "mailbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (token, dsn, amqp url, ops token)
// are reported only as "set"/"unset".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.AdminIDs, nt.AdminIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.WelcomeText != nt.WelcomeText ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.admin_count", len(nt.AdminIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	if ost.Driver != nst.Driver || ost.Path != nst.Path || ost.DSN != nst.DSN ||
		ost.BusyTimeout != nst.BusyTimeout || ost.MaxOpenConns != nst.MaxOpenConns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nst.DSN) != ""),
		)
	}

	if oldCfg.Scheduler.IsEnabled() != newCfg.Scheduler.IsEnabled() ||
		strings.TrimSpace(oldCfg.Scheduler.PollInterval) != strings.TrimSpace(newCfg.Scheduler.PollInterval) ||
		strings.TrimSpace(oldCfg.Scheduler.CommitTimeout) != strings.TrimSpace(newCfg.Scheduler.CommitTimeout) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.commit_timeout", strings.TrimSpace(newCfg.Scheduler.CommitTimeout)),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
			logx.String("dispatch.send_timeout", strings.TrimSpace(newCfg.Dispatch.SendTimeout)),
		)
	}

	if !strings.EqualFold(strings.TrimSpace(oldCfg.Audience.AdminTag), strings.TrimSpace(newCfg.Audience.AdminTag)) {
		changed = append(changed, "audience")
		attrs = append(attrs, logx.String("audience.admin_tag", strings.TrimSpace(newCfg.Audience.AdminTag)))
	}

	if oldCfg.Keyword != newCfg.Keyword {
		changed = append(changed, "keyword")
		attrs = append(attrs, logx.String("keyword.link_base", strings.TrimSpace(newCfg.Keyword.LinkBase)))
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	if oo.Enabled != no.Enabled || oo.Addr != no.Addr || oo.Pprof != no.Pprof ||
		oo.ReadTimeout != no.ReadTimeout || oo.WriteTimeout != no.WriteTimeout || oo.IdleTimeout != no.IdleTimeout ||
		(strings.TrimSpace(oo.Token) != "") != (strings.TrimSpace(no.Token) != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("ops.pprof", no.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(no.Token) != ""),
		)
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.String("maintenance.backup_cron", strings.TrimSpace(newCfg.Maintenance.BackupCron)),
			logx.String("maintenance.prune_cron", strings.TrimSpace(newCfg.Maintenance.PruneCron)),
		)
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.amqp_set", strings.TrimSpace(newCfg.Report.AMQPURL) != ""),
			logx.String("report.queue", strings.TrimSpace(newCfg.Report.Queue)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
