package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mailbot/internal/campaign"
	"mailbot/internal/metrics"
	kit "mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

type Config struct {
	Workers     int
	RatePerSec  int
	SendTimeout time.Duration
}

const (
	defaultWorkers     = 4
	defaultRatePerSec  = 25
	defaultSendTimeout = 15 * time.Second

	maxFailuresKept = 200
)

// FiringStatus is the in-memory record of one dispatch, kept for operators.
type FiringStatus struct {
	ID         string           `json:"id"`
	CampaignID int64            `json:"campaign_id"`
	Total      int              `json:"total"`
	Outcome    campaign.Outcome `json:"outcome"`
	Failures   []int64          `json:"failures,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	DoneAt     time.Time        `json:"done_at,omitempty"`
	Running    bool             `json:"running"`
}

type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	tr      kit.Deliverer
	log     logx.Logger
	metrics *metrics.Metrics

	statusMu  sync.RWMutex
	status    map[string]*FiringStatus
	statusMax int
	statusTTL time.Duration
}
