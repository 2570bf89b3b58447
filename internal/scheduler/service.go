// Package scheduler runs the campaign polling loop.
//
// Every poll interval the loop fetches due schedules and fires them one at a
// time: compute the next due instant, resolve the audience and payload,
// dispatch, then commit the advance (or the deactivation of a once schedule).
// A schedule that cannot be fired is left untouched and retried next cycle.
package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailbot/internal/campaign"
	"mailbot/internal/eventbus"
	"mailbot/internal/metrics"
	"mailbot/internal/recurrence"
	logx "mailbot/pkg/logx"
)

type Deps struct {
	Store    CampaignStore
	Audience AudienceResolver
	Content  PayloadResolver
	Dispatch Dispatcher

	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	// Heartbeat is called after every cycle, whatever its result.
	Heartbeat func()
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	deps Deps
	log  logx.Logger
	now  func() time.Time

	// wake interrupts the current wait so a new interval applies immediately.
	wake chan struct{}

	stMu   sync.RWMutex
	status Status
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		deps: deps,
		log:  log,
		now:  time.Now,
		wake: make(chan struct{}, 1),
	}
	s.Apply(cfg)
	return s
}

func normalize(cfg Config) Config {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	return cfg
}

// Apply swaps the configuration. A changed interval takes effect on the
// next wait.
func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	changed := s.cfg.PollInterval != cfg.PollInterval
	s.cfg = cfg
	s.mu.Unlock()

	s.stMu.Lock()
	s.status.Enabled = cfg.Enabled
	s.status.PollInterval = cfg.PollInterval
	s.stMu.Unlock()

	if changed {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Status() Status {
	s.stMu.RLock()
	defer s.stMu.RUnlock()
	return s.status
}

// Run waits one interval, runs a cycle, and repeats until ctx is done.
// Processing errors never end the loop.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.config()
	s.log.Info("scheduler started", logx.Duration("interval", cfg.PollInterval), logx.Bool("enabled", cfg.Enabled))
	defer s.log.Info("scheduler stopped")

	for {
		cfg = s.config()
		t := time.NewTimer(cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-s.wake:
			t.Stop()
			continue
		case <-t.C:
		}
		if !cfg.Enabled {
			continue
		}
		s.RunCycle(ctx)
	}
}

// RunCycle fetches due schedules and fires each of them.
func (s *Service) RunCycle(ctx context.Context) (rep CycleReport) {
	rep.StartedAt = s.now()
	defer func() {
		if r := recover(); r != nil {
			rep.Aborted = true
			s.log.Error("panic in scheduler cycle", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.finishCycle(&rep, metrics.CyclePanic)
		}
	}()

	now := rep.StartedAt.UTC()
	due, err := s.deps.Store.DueSchedules(ctx, now)
	if err != nil {
		rep.Aborted = true
		s.log.Error("scheduler cycle aborted: cannot fetch due schedules", logx.Err(err))
		s.finishCycle(&rep, metrics.CycleAborted)
		return rep
	}
	rep.Due = len(due)

	for i, sc := range due {
		if ctx.Err() != nil {
			break
		}
		switch s.fire(ctx, sc, now) {
		case fired:
			rep.Fired++
		case skipped:
			rep.Skipped++
		case faulted:
			rep.Faulted++
		case storeDown:
			rep.Faulted++
			rep.Aborted = true
			s.log.Error("scheduler cycle aborted: store unavailable", logx.Int("remaining", len(due)-i-1))
			s.finishCycle(&rep, metrics.CycleAborted)
			return rep
		}
	}
	s.finishCycle(&rep, metrics.CycleOK)
	return rep
}

func (s *Service) finishCycle(rep *CycleReport, result string) {
	rep.Took = time.Since(rep.StartedAt)
	due := rep.Due
	if rep.Aborted {
		due = -1
	}
	s.deps.Metrics.Cycle(result, rep.Took, due)

	s.stMu.Lock()
	s.status.LastCycleAt = rep.StartedAt
	s.status.LastDue = rep.Due
	s.status.LastFired = rep.Fired
	s.status.LastAborted = rep.Aborted
	s.status.Cycles++
	s.stMu.Unlock()

	if rep.Due > 0 || rep.Aborted {
		s.log.Info("scheduler cycle done",
			logx.Int("due", rep.Due), logx.Int("fired", rep.Fired), logx.Int("skipped", rep.Skipped),
			logx.Int("faulted", rep.Faulted), logx.Duration("took", rep.Took))
	}
	if s.deps.Heartbeat != nil {
		s.deps.Heartbeat()
	}
}

type fireResult int

const (
	fired fireResult = iota
	skipped
	faulted
	// storeDown means the store stopped answering mid-cycle.
	storeDown
)

const pingTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// failure maps a load or resolve error to a result. Data errors fault only
// the schedule at hand; an unreachable store ends the cycle.
func (s *Service) failure(ctx context.Context) fireResult {
	p, ok := s.deps.Store.(pinger)
	if !ok || ctx.Err() != nil {
		return faulted
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.Ping(pctx); err != nil {
		s.log.Warn("store ping failed", logx.Err(err))
		return storeDown
	}
	return faulted
}

// fire processes one due schedule. The schedule row is only written after a
// complete dispatch.
func (s *Service) fire(ctx context.Context, sc campaign.Schedule, now time.Time) fireResult {
	log := s.log.With(logx.Int64("schedule_id", sc.ID), logx.Int64("campaign_id", sc.CampaignID), logx.String("kind", string(sc.Kind)))

	next := sc
	if sc.Kind == campaign.KindOnce {
		next.Active = false
	} else {
		nd, err := recurrence.NextDue(sc, now)
		if err != nil {
			log.Error("recurrence fault; schedule left unchanged", logx.Err(err), logx.Time("next_due", sc.NextDue))
			return faulted
		}
		next.NextDue = nd
	}

	c, err := s.deps.Store.LoadCampaign(ctx, sc.CampaignID)
	if err != nil {
		log.Error("load campaign failed", logx.Err(err))
		return s.failure(ctx)
	}
	if !c.Active {
		log.Debug("campaign inactive; schedule stays due")
		return skipped
	}

	recipients, err := s.deps.Audience.Resolve(ctx, c)
	if err != nil {
		log.Error("audience resolution failed", logx.Err(err))
		return s.failure(ctx)
	}
	payload, err := s.deps.Content.Resolve(ctx, c)
	if err != nil {
		log.Error("payload resolution failed", logx.Err(err))
		return s.failure(ctx)
	}

	firingID := uuid.NewString()
	firedAt := s.now().UTC()
	outcome := s.deps.Dispatch.Dispatch(ctx, firingID, c.ID, recipients, payload)
	if outcome.Abandoned > 0 {
		log.Warn("firing interrupted; schedule not advanced",
			logx.String("firing", firingID), logx.Int("abandoned", outcome.Abandoned))
		return faulted
	}

	cfg := s.config()
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.CommitTimeout)
	defer cancel()
	if err := s.deps.Store.SaveSchedule(cctx, next, sc.NextDue); err != nil {
		fields := []logx.Field{logx.String("firing", firingID), logx.Err(err)}
		if errors.Is(err, context.DeadlineExceeded) {
			fields = append(fields, logx.Duration("timeout", cfg.CommitTimeout))
		}
		log.Error("schedule commit failed", fields...)
		return faulted
	}

	rep := FiringReport{
		FiringID:    firingID,
		CampaignID:  c.ID,
		ScheduleID:  sc.ID,
		Title:       c.Title,
		Kind:        sc.Kind,
		DueAt:       sc.NextDue,
		FiredAt:     firedAt,
		Deactivated: !next.Active,
		Recipients:  len(recipients),
		Outcome:     outcome,
	}
	if next.Active {
		rep.NextDue = next.NextDue
	}
	s.deps.Metrics.Firing(string(sc.Kind))
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.Event{Type: EventFired, Time: firedAt, Data: rep})
	}

	fields := []logx.Field{
		logx.String("firing", firingID),
		logx.Int("recipients", len(recipients)),
		logx.Int("delivered", outcome.Delivered),
		logx.Int("failed", outcome.Failed),
	}
	if next.Active {
		fields = append(fields, logx.Time("next_due", next.NextDue))
	} else {
		fields = append(fields, logx.Bool("deactivated", true))
	}
	log.Info("campaign fired", fields...)
	return fired
}
