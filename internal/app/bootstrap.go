package app

import (
	"context"
	"fmt"

	"mailbot/internal/audience"
	"mailbot/internal/config"
	"mailbot/internal/content"
	"mailbot/internal/dispatch"
	"mailbot/internal/eventbus"
	"mailbot/internal/keyword"
	"mailbot/internal/maintenance"
	"mailbot/internal/metrics"
	"mailbot/internal/observability/ops"
	"mailbot/internal/report"
	"mailbot/internal/scheduler"
	kit "mailbot/internal/transport"
	telegram "mailbot/internal/transport/telegram/adapter"
	logx "mailbot/pkg/logx"
	"mailbot/pkg/systemd"
)

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDispatch(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		SendTimeout: dcfg.SendTimeout,
	}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(mapLogging(cfg), ad.LogSink())
	appLog := log.With(logx.String("comp", "app"))

	store, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", store.Driver()))

	m := metrics.New()
	bus := eventbus.New()

	disp := dispatch.New(dcfg, ad, m, log.With(logx.String("comp", "dispatch")))

	admins := newAdminSet(cfg.Telegram.AdminIDs)
	aud := audience.NewResolver(store, admins, cfg.Audience.AdminTag, log.With(logx.String("comp", "audience")))
	kw := keyword.NewService(store, m, log.With(logx.String("comp", "keyword")))
	notify := systemd.NewNotifier()

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, scheduler.Deps{
		Store:     store,
		Audience:  aud,
		Content:   content.NewResolver(store),
		Dispatch:  disp,
		Bus:       bus,
		Metrics:   m,
		Heartbeat: func() { _ = notify.Watchdog() },
	}, log.With(logx.String("comp", "scheduler")))

	opsCfg, err := mapOps(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	mcfg, err := mapMaintenance(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: m,
		adapter: ad,
		admins:  admins,
		disp:    disp,
		sched:   sched,
		maint:   maintenance.New(mcfg, store, log.With(logx.String("comp", "maintenance"))),
		notify:  notify,
		updates: make(chan kit.Update, 256),
	}
	a.ops = ops.New(opsCfg, ops.Deps{
		Metrics: m.Handler(),
		Health:  a.health,
		Firings: disp,
	}, log.With(logx.String("comp", "ops")))
	if rc := mapReport(cfg); rc.Enabled() {
		a.report = report.New(rc, bus, log.With(logx.String("comp", "report")), scheduler.EventFired)
	}
	a.in = newInbound(store, kw, ad, mapReplyTexts(cfg), log.With(logx.String("comp", "inbound")))
	return a, nil
}
