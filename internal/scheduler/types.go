package scheduler

import (
	"context"
	"time"

	"mailbot/internal/audience"
	"mailbot/internal/campaign"
	kit "mailbot/internal/transport"
)

// EventFired is published on the event bus after every committed firing.
const EventFired = "campaign.fired"

type Config struct {
	Enabled       bool
	PollInterval  time.Duration
	CommitTimeout time.Duration
}

const (
	DefaultPollInterval  = 60 * time.Second
	DefaultCommitTimeout = 10 * time.Second
)

// CampaignStore is the durable home of campaigns and schedules.
type CampaignStore interface {
	DueSchedules(ctx context.Context, now time.Time) ([]campaign.Schedule, error)
	LoadCampaign(ctx context.Context, id int64) (campaign.Campaign, error)
	// SaveSchedule applies only while the stored schedule is still active
	// with next_due == prevDue.
	SaveSchedule(ctx context.Context, s campaign.Schedule, prevDue time.Time) error
}

type AudienceResolver interface {
	Resolve(ctx context.Context, c campaign.Campaign) ([]audience.Recipient, error)
}

type PayloadResolver interface {
	Resolve(ctx context.Context, c campaign.Campaign) (kit.Payload, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, firingID string, campaignID int64, recipients []audience.Recipient, p kit.Payload) campaign.Outcome
}

// FiringReport describes one committed firing. It is the payload of EventFired.
type FiringReport struct {
	FiringID    string           `json:"firing_id"`
	CampaignID  int64            `json:"campaign_id"`
	ScheduleID  int64            `json:"schedule_id"`
	Title       string           `json:"title"`
	Kind        campaign.Kind    `json:"kind"`
	DueAt       time.Time        `json:"due_at"`
	FiredAt     time.Time        `json:"fired_at"`
	NextDue     time.Time        `json:"next_due,omitempty"`
	Deactivated bool             `json:"deactivated"`
	Recipients  int              `json:"recipients"`
	Outcome     campaign.Outcome `json:"outcome"`
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Due       int
	Fired     int
	Skipped   int
	Faulted   int
	Aborted   bool
	StartedAt time.Time
	Took      time.Duration
}

// Status is what operators see about the loop.
type Status struct {
	Enabled      bool          `json:"enabled"`
	PollInterval time.Duration `json:"poll_interval"`
	LastCycleAt  time.Time     `json:"last_cycle_at,omitempty"`
	LastDue      int           `json:"last_due"`
	LastFired    int           `json:"last_fired"`
	LastAborted  bool          `json:"last_aborted"`
	Cycles       uint64        `json:"cycles"`
}
