package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mailbot/internal/audience"
	"mailbot/internal/campaign"
	"mailbot/internal/eventbus"
	kit "mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

type saved struct {
	s    campaign.Schedule
	prev time.Time
}

type fakeStore struct {
	mu        sync.Mutex
	due       []campaign.Schedule
	campaigns map[int64]campaign.Campaign
	dueErr    error
	saveErr   map[int64]error
	saves     []saved
	pingErr   error
	loads     int
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) DueSchedules(context.Context, time.Time) ([]campaign.Schedule, error) {
	return f.due, f.dueErr
}

func (f *fakeStore) LoadCampaign(_ context.Context, id int64) (campaign.Campaign, error) {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
	if f.pingErr != nil {
		return campaign.Campaign{}, f.pingErr
	}
	c, ok := f.campaigns[id]
	if !ok {
		return campaign.Campaign{}, errors.New("not found")
	}
	return c, nil
}

func (f *fakeStore) SaveSchedule(ctx context.Context, s campaign.Schedule, prev time.Time) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := f.saveErr[s.ID]; err != nil {
		return err
	}
	f.mu.Lock()
	f.saves = append(f.saves, saved{s, prev})
	f.mu.Unlock()
	return nil
}

type staticAudience []audience.Recipient

func (a staticAudience) Resolve(context.Context, campaign.Campaign) ([]audience.Recipient, error) {
	return a, nil
}

type staticPayload struct{ err error }

func (p staticPayload) Resolve(context.Context, campaign.Campaign) (kit.Payload, error) {
	return kit.TextPayload("hello"), p.err
}

type countingDispatch struct {
	calls []int64
	out   campaign.Outcome
}

func (d *countingDispatch) Dispatch(_ context.Context, _ string, cid int64, rs []audience.Recipient, _ kit.Payload) campaign.Outcome {
	d.calls = append(d.calls, cid)
	if d.out != (campaign.Outcome{}) {
		return d.out
	}
	return campaign.Outcome{Delivered: len(rs)}
}

var (
	friday = time.Date(2024, time.January, 5, 9, 0, 0, 0, time.UTC)
	monday = time.Date(2024, time.January, 8, 10, 0, 0, 0, time.UTC)
	rcpts  = staticAudience{{ChatID: 1}, {ChatID: 2}}
	active = func(id int64) campaign.Campaign {
		return campaign.Campaign{ID: id, Title: "c", PayloadRef: "keyword:X", Active: true, Rules: []campaign.Rule{campaign.StatusTag("gold")}}
	}
)

func newTestService(st *fakeStore, d *countingDispatch, bus eventbus.Bus) *Service {
	s := New(Config{Enabled: true, PollInterval: time.Hour}, Deps{
		Store: st, Audience: rcpts, Content: staticPayload{}, Dispatch: d, Bus: bus,
	}, logx.Nop())
	s.now = func() time.Time { return monday }
	return s
}

func TestCycleAdvancesWeeklyAndDeactivatesOnce(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due: []campaign.Schedule{
			{ID: 10, CampaignID: 1, Kind: campaign.KindWeekly, Days: []int{1, 5}, Hour: 9, NextDue: friday, Active: true},
			{ID: 11, CampaignID: 2, Kind: campaign.KindOnce, Hour: 9, NextDue: friday, Active: true},
		},
		campaigns: map[int64]campaign.Campaign{1: active(1), 2: active(2)},
	}
	d := &countingDispatch{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	rep := newTestService(st, d, bus).RunCycle(context.Background())
	if rep.Due != 2 || rep.Fired != 2 || rep.Aborted {
		t.Fatalf("report=%+v", rep)
	}
	if len(st.saves) != 2 {
		t.Fatalf("saves=%+v", st.saves)
	}
	weekly, once := st.saves[0], st.saves[1]
	if want := time.Date(2024, time.January, 12, 9, 0, 0, 0, time.UTC); !weekly.s.NextDue.Equal(want) || !weekly.s.Active {
		t.Fatalf("weekly saved %+v", weekly.s)
	}
	if !weekly.prev.Equal(friday) {
		t.Fatalf("weekly commit must be conditional on the old next_due, got %s", weekly.prev)
	}
	if once.s.Active || !once.s.NextDue.Equal(friday) {
		t.Fatalf("once saved %+v", once.s)
	}

	for i := 0; i < 2; i++ {
		ev := <-events
		rep, ok := ev.Data.(FiringReport)
		if ev.Type != EventFired || !ok || rep.Outcome.Delivered != 2 {
			t.Fatalf("event=%+v", ev)
		}
	}
}

func TestInactiveCampaignIsSkippedWithoutAdvance(t *testing.T) {
	t.Parallel()

	c := active(1)
	c.Active = false
	st := &fakeStore{
		due:       []campaign.Schedule{{ID: 10, CampaignID: 1, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true}},
		campaigns: map[int64]campaign.Campaign{1: c},
	}
	d := &countingDispatch{}
	rep := newTestService(st, d, nil).RunCycle(context.Background())
	if rep.Skipped != 1 || len(d.calls) != 0 || len(st.saves) != 0 {
		t.Fatalf("report=%+v dispatch=%v saves=%v", rep, d.calls, st.saves)
	}
}

func TestRecurrenceFaultLeavesScheduleUntouched(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due:       []campaign.Schedule{{ID: 10, CampaignID: 1, Kind: campaign.KindWeekly, Hour: 9, NextDue: friday, Active: true}},
		campaigns: map[int64]campaign.Campaign{1: active(1)},
	}
	d := &countingDispatch{}
	rep := newTestService(st, d, nil).RunCycle(context.Background())
	if rep.Faulted != 1 || len(d.calls) != 0 || len(st.saves) != 0 {
		t.Fatalf("report=%+v dispatch=%v saves=%v", rep, d.calls, st.saves)
	}
}

func TestCommitFailureDoesNotBlockOtherSchedules(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due: []campaign.Schedule{
			{ID: 10, CampaignID: 1, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true},
			{ID: 11, CampaignID: 2, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true},
		},
		campaigns: map[int64]campaign.Campaign{1: active(1), 2: active(2)},
		saveErr:   map[int64]error{10: errors.New("disk full")},
	}
	d := &countingDispatch{}
	rep := newTestService(st, d, nil).RunCycle(context.Background())
	if rep.Faulted != 1 || rep.Fired != 1 {
		t.Fatalf("report=%+v", rep)
	}
	if len(st.saves) != 1 || st.saves[0].s.ID != 11 || !st.saves[0].s.NextDue.Equal(friday.Add(24*time.Hour)) {
		t.Fatalf("saves=%+v", st.saves)
	}
}

func TestStoreOutageAbortsCycle(t *testing.T) {
	t.Parallel()

	beats := 0
	st := &fakeStore{dueErr: errors.New("connection refused")}
	s := New(Config{Enabled: true}, Deps{Store: st, Heartbeat: func() { beats++ }}, logx.Nop())
	rep := s.RunCycle(context.Background())
	if !rep.Aborted || beats != 1 || !s.Status().LastAborted {
		t.Fatalf("report=%+v beats=%d", rep, beats)
	}
}

func TestStoreLostMidCycleAbortsRemaining(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due: []campaign.Schedule{
			{ID: 10, CampaignID: 1, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true},
			{ID: 11, CampaignID: 2, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true},
			{ID: 12, CampaignID: 3, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true},
		},
		campaigns: map[int64]campaign.Campaign{1: active(1), 2: active(2), 3: active(3)},
		pingErr:   errors.New("connection refused"),
	}
	d := &countingDispatch{}
	s := newTestService(st, d, nil)
	rep := s.RunCycle(context.Background())
	if !rep.Aborted || rep.Faulted != 1 || st.loads != 1 || len(d.calls) != 0 || len(st.saves) != 0 {
		t.Fatalf("report=%+v loads=%d", rep, st.loads)
	}
	if !s.Status().LastAborted {
		t.Fatalf("status should record the aborted cycle")
	}
}

func TestMissingCampaignFaultsOnlyThatSchedule(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due: []campaign.Schedule{
			{ID: 10, CampaignID: 99, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true},
			{ID: 11, CampaignID: 1, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true},
		},
		campaigns: map[int64]campaign.Campaign{1: active(1)},
	}
	d := &countingDispatch{}
	rep := newTestService(st, d, nil).RunCycle(context.Background())
	if rep.Aborted || rep.Faulted != 1 || rep.Fired != 1 || len(st.saves) != 1 {
		t.Fatalf("report=%+v saves=%v", rep, st.saves)
	}
}

func TestResolveErrorsSkipWithoutAdvance(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due:       []campaign.Schedule{{ID: 10, CampaignID: 1, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true}},
		campaigns: map[int64]campaign.Campaign{1: active(1)},
	}
	d := &countingDispatch{}
	s := newTestService(st, d, nil)
	s.deps.Content = staticPayload{err: errors.New("material gone")}
	if rep := s.RunCycle(context.Background()); rep.Faulted != 1 || len(d.calls) != 0 || len(st.saves) != 0 {
		t.Fatalf("report=%+v", rep)
	}
}

func TestAbandonedDispatchIsNotCommitted(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due:       []campaign.Schedule{{ID: 10, CampaignID: 1, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true}},
		campaigns: map[int64]campaign.Campaign{1: active(1)},
	}
	d := &countingDispatch{out: campaign.Outcome{Delivered: 1, Abandoned: 1}}
	if rep := newTestService(st, d, nil).RunCycle(context.Background()); rep.Fired != 0 || len(st.saves) != 0 {
		t.Fatalf("report=%+v saves=%v", rep, st.saves)
	}
}

func TestCyclePanicIsContained(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due:       []campaign.Schedule{{ID: 10, CampaignID: 1, Kind: campaign.KindDaily, Hour: 9, NextDue: friday, Active: true}},
		campaigns: map[int64]campaign.Campaign{1: active(1)},
	}
	s := New(Config{Enabled: true}, Deps{Store: st, Audience: rcpts, Content: staticPayload{}}, logx.Nop())
	// Dispatch is nil: the call panics inside the cycle.
	rep := s.RunCycle(context.Background())
	if !rep.Aborted {
		t.Fatalf("expected aborted report, got %+v", rep)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	cycles := make(chan struct{}, 8)
	s := New(Config{Enabled: true, PollInterval: 5 * time.Millisecond}, Deps{
		Store: st,
		Heartbeat: func() {
			select {
			case cycles <- struct{}{}:
			default:
			}
		},
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-cycles:
	case <-time.After(2 * time.Second):
		t.Fatalf("no cycle ran")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
