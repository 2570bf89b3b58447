package dispatch

import (
	"sort"
	"time"

	"mailbot/internal/campaign"
)

func (d *Dispatcher) begin(id string, campaignID int64, total int, now time.Time) {
	d.prune(now)
	d.statusMu.Lock()
	d.status[id] = &FiringStatus{ID: id, CampaignID: campaignID, Total: total, StartedAt: now, Running: true}
	d.statusMu.Unlock()
}

func (d *Dispatcher) markFail(id string, chatID int64) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	if st := d.status[id]; st != nil && len(st.Failures) < maxFailuresKept {
		st.Failures = append(st.Failures, chatID)
	}
}

func (d *Dispatcher) finish(id string, out campaign.Outcome) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	if st := d.status[id]; st != nil {
		st.Outcome = out
		st.DoneAt = time.Now()
		st.Running = false
	}
}

// Status returns a copy of one firing's record.
func (d *Dispatcher) Status(id string) (FiringStatus, bool) {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	st, ok := d.status[id]
	if !ok {
		return FiringStatus{}, false
	}
	cp := *st
	cp.Failures = append([]int64(nil), st.Failures...)
	return cp, true
}

// Recent returns retained firings, newest first.
func (d *Dispatcher) Recent() []FiringStatus {
	d.statusMu.RLock()
	out := make([]FiringStatus, 0, len(d.status))
	for _, st := range d.status {
		cp := *st
		cp.Failures = nil
		out = append(out, cp)
	}
	d.statusMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// prune drops finished records older than the TTL, then the oldest finished
// ones while over capacity.
func (d *Dispatcher) prune(now time.Time) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	for id, st := range d.status {
		if !st.Running && now.Sub(st.DoneAt) > d.statusTTL {
			delete(d.status, id)
		}
	}
	if len(d.status) < d.statusMax {
		return
	}
	done := make([]*FiringStatus, 0, len(d.status))
	for _, st := range d.status {
		if !st.Running {
			done = append(done, st)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].DoneAt.Before(done[j].DoneAt) })
	for _, st := range done {
		if len(d.status) < d.statusMax {
			break
		}
		delete(d.status, st.ID)
	}
}
