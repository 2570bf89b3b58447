package config

// Config is the on-disk configuration of the bot and of campaignctl.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Unknown keys are rejected on load and on every reload.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Dispatch    DispatchConfig    `json:"dispatch"`
	Audience    AudienceConfig    `json:"audience"`
	Keyword     KeywordConfig     `json:"keyword"`
	Ops         OpsConfig         `json:"ops"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Report      ReportConfig      `json:"report"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminIDs receive campaigns carrying the admin status rule.
	AdminIDs []int64 `json:"admin_ids"`
	// GroupLog is the operator chat id used by the telegram log sink.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// WelcomeText answers a bare /start.
	WelcomeText string `json:"welcome_text,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the SQL store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/mailbot.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`          // postgres; do not log
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// SchedulerConfig controls the campaign poll loop.
//
// Enabled is a pointer so an omitted key keeps the loop on.
type SchedulerConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	CommitTimeout string `json:"commit_timeout,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type DispatchConfig struct {
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type AudienceConfig struct {
	// AdminTag is the status rule value that expands to telegram.admin_ids.
	AdminTag string `json:"admin_tag,omitempty"`
}

type KeywordConfig struct {
	// LinkBase is the deep link prefix printed by campaignctl, e.g. "https://t.me/mybot".
	LinkBase     string `json:"link_base,omitempty"`
	NotFoundText string `json:"not_found_text,omitempty"`
	ExpiredText  string `json:"expired_text,omitempty"`
}

// OpsConfig controls the HTTP ops server (/metrics, /healthz, /debug/pprof).
//
// Prefer binding to localhost. A non-loopback address requires a token.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:9310"
	Pprof   bool   `json:"pprof,omitempty"` // mount /debug/pprof/
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// MaintenanceConfig holds cron specs (robfig/cron syntax). An empty spec disables the job.
type MaintenanceConfig struct {
	BackupCron string `json:"backup_cron,omitempty"`
	BackupDir  string `json:"backup_dir,omitempty"`
	PruneCron  string `json:"prune_cron,omitempty"`
	// PruneAfter is how long an expired link is kept before pruning. Default "720h".
	PruneAfter string `json:"prune_after,omitempty"`
}

// ReportConfig publishes firing reports to an AMQP queue when AMQPURL is set.
type ReportConfig struct {
	AMQPURL string `json:"amqp_url,omitempty"` // do not log
	Queue   string `json:"queue,omitempty"`
}
