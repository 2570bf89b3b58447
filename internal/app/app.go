// Package app wires the bot: config, storage, transport, the scheduler loop
// and its supporting services.
package app

import (
	"context"
	"fmt"
	"time"

	"mailbot/internal/config"
	"mailbot/internal/dispatch"
	"mailbot/internal/eventbus"
	"mailbot/internal/maintenance"
	"mailbot/internal/metrics"
	"mailbot/internal/observability/ops"
	"mailbot/internal/report"
	rtsup "mailbot/internal/runtime/supervisor"
	"mailbot/internal/scheduler"
	"mailbot/internal/storage"
	kit "mailbot/internal/transport"
	telegram "mailbot/internal/transport/telegram/adapter"
	logx "mailbot/pkg/logx"
	"mailbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     *eventbus.MemBus
	store   *storage.Store
	metrics *metrics.Metrics

	adapter *telegram.Adapter
	admins  *adminSet
	disp    *dispatch.Dispatcher
	sched   *scheduler.Service
	ops     *ops.Service
	maint   *maintenance.Service
	report  *report.Sink
	in      *inbound
	notify  *systemd.Notifier

	updates chan kit.Update
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.GoRestart("scheduler.loop", a.sched.Run,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(true),
	)
	a.sup.GoRestart("inbound.loop", func(c context.Context) error {
		return a.in.Loop(c, a.updates)
	}, rtsup.WithStopOnCleanExit(true))

	if a.report != nil {
		a.sup.GoRestart("report.sink", a.report.Run,
			rtsup.WithRestartBackoff(time.Second, time.Minute),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	if err := a.maint.Start(a.sup.Context()); err != nil {
		return err
	}
	a.ops.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if iv := a.notify.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { a.watchdogLoop(c, iv/2) })
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if err := a.notify.Ready(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
	a.log.Info("app started")
	return nil
}

// watchdogLoop keeps the systemd watchdog fed while the scheduler is not
// stalled. A disabled or long poll interval would otherwise starve it.
func (a *App) watchdogLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if schedulerFresh(a.sched.Status(), time.Now()) {
				_ = a.notify.Watchdog()
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_ = a.notify.Stopping()

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	// scheduler and dispatch unwind through the canceled context; wait for
	// an in-flight firing to commit before the store goes away
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
