package app

import (
	"context"
	"time"

	rtsup "mailbot/internal/runtime/supervisor"
	"mailbot/internal/scheduler"
)

// staleCycleSlack covers a long firing (large audience at the send rate).
const staleCycleSlack = 10 * time.Minute

type healthView struct {
	OK            bool                      `json:"ok"`
	Storage       string                    `json:"storage"`
	Scheduler     scheduler.Status          `json:"scheduler"`
	EventsDropped uint64                    `json:"events_dropped"`
	Supervisors   map[string]rtsup.Snapshot `json:"supervisors"`
}

// schedulerFresh is false when an enabled loop has not finished a cycle for
// well over its interval.
func schedulerFresh(st scheduler.Status, now time.Time) bool {
	if !st.Enabled || st.LastCycleAt.IsZero() {
		return true
	}
	return now.Sub(st.LastCycleAt) <= 2*st.PollInterval+staleCycleSlack
}

func (a *App) health() (any, bool) {
	v := healthView{
		Storage:     "ok",
		Scheduler:   a.sched.Status(),
		Supervisors: map[string]rtsup.Snapshot{},
	}
	ok := true

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		v.Storage = err.Error()
		ok = false
	}
	if !schedulerFresh(v.Scheduler, time.Now()) {
		ok = false
	}
	if a.bus != nil {
		v.EventsDropped = a.bus.Dropped()
	}
	if a.sup != nil {
		v.Supervisors["app"] = a.sup.Snapshot()
		if a.sup.Err() != nil {
			ok = false
		}
	}
	if sup := a.adapter.Supervisor(); sup != nil {
		v.Supervisors["telegram.adapter"] = sup.Snapshot()
	}
	if sup := a.ops.Supervisor(); sup != nil {
		v.Supervisors["ops"] = sup.Snapshot()
	}
	v.OK = ok
	return v, ok
}
