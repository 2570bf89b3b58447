// Package dispatch delivers one payload to a resolved recipient list.
//
// Each recipient gets exactly one attempt. Failures are counted and logged,
// never retried within a firing, and never stop the remaining recipients.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mailbot/internal/audience"
	"mailbot/internal/campaign"
	"mailbot/internal/metrics"
	kit "mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

func New(cfg Config, tr kit.Deliverer, m *metrics.Metrics, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		tr:        tr,
		log:       log,
		metrics:   m,
		status:    map[string]*FiringStatus{},
		statusMax: 200,
		statusTTL: 24 * time.Hour,
	}
	d.Apply(cfg)
	return d
}

// Apply swaps worker count, rate and timeout. In-flight dispatches keep the
// values they started with.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Dispatch delivers p to every recipient and reports the counts. When ctx is
// cancelled the recipients not yet attempted are reported as abandoned.
func (d *Dispatcher) Dispatch(ctx context.Context, firingID string, campaignID int64, recipients []audience.Recipient, p kit.Payload) campaign.Outcome {
	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	start := time.Now()
	d.begin(firingID, campaignID, len(recipients), start)
	log := d.log.With(logx.String("firing", firingID), logx.Int64("campaign_id", campaignID))

	var delivered, failed int64
	jobs := make(chan audience.Recipient)

	workers := cfg.Workers
	if workers > len(recipients) {
		workers = len(recipients)
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for rc := range jobs {
				err := d.sendOne(ctx, lim, cfg.SendTimeout, rc, p)
				switch {
				case err == nil:
					atomic.AddInt64(&delivered, 1)
				case ctx.Err() != nil:
					// cancelled mid-attempt; counted as abandoned below
				default:
					atomic.AddInt64(&failed, 1)
					d.markFail(firingID, rc.ChatID)
					log.Warn("delivery failed", logx.Int64("chat_id", rc.ChatID), logx.Err(err))
				}
			}
		}()
	}

feed:
	for _, rc := range recipients {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- rc:
		}
	}
	close(jobs)
	wg.Wait()

	out := campaign.Outcome{Delivered: int(delivered), Failed: int(failed)}
	out.Abandoned = len(recipients) - out.Delivered - out.Failed
	d.finish(firingID, out)

	d.metrics.Deliveries(metrics.ResultDelivered, out.Delivered)
	d.metrics.Deliveries(metrics.ResultFailed, out.Failed)
	d.metrics.Deliveries(metrics.ResultAbandoned, out.Abandoned)

	fields := []logx.Field{
		logx.Int("total", len(recipients)),
		logx.Int("delivered", out.Delivered),
		logx.Int("failed", out.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	switch {
	case out.Abandoned > 0:
		log.Warn("dispatch cancelled", append(fields, logx.Int("abandoned", out.Abandoned))...)
	case out.Failed > 0:
		log.Warn("dispatch finished with failures", fields...)
	default:
		log.Info("dispatch finished", fields...)
	}
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, lim *rate.Limiter, timeout time.Duration, rc audience.Recipient, p kit.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in delivery", logx.Int64("chat_id", rc.ChatID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("delivery panic: %v", r)
		}
	}()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.tr.Deliver(sctx, kit.ChatTarget{ChatID: rc.ChatID}, p)
}
