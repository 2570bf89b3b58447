package app

import (
	"context"
	"slices"
	"strings"

	"mailbot/internal/config"
	logx "mailbot/pkg/logx"
)

// restartOnly lists config sections that are read once at startup.
var restartOnly = []string{"storage", "audience", "report"}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts; only the newest config matters
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the hot-reloadable parts of cfg into running components.
// cfg has already passed validate, so mapping errors only keep the previous value.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if strings.TrimSpace(prev.Telegram.Token) != strings.TrimSpace(cfg.Telegram.Token) {
		a.log.Warn("telegram token changed; restart required for it to take effect")
	}

	a.logs.Apply(mapLogging(cfg))
	a.admins.Set(cfg.Telegram.AdminIDs)
	a.in.setTexts(mapReplyTexts(cfg))

	if dc, err := mapDispatch(cfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}
	if sc, err := mapScheduler(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
	if oc, err := mapOps(cfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
	}
	if mc, err := mapMaintenance(cfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else if err := a.maint.Apply(mc); err != nil {
		a.log.Warn("maintenance reschedule failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
