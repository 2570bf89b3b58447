// Package maintenance runs the periodic housekeeping jobs: database backups
// and pruning of long-expired keyword links.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mailbot/internal/storage"
	logx "mailbot/pkg/logx"
)

const (
	DefaultPruneAfter = 30 * 24 * time.Hour
	jobTimeout        = 10 * time.Minute
)

type Config struct {
	BackupCron string
	BackupDir  string
	PruneCron  string
	// PruneAfter keeps expired links this long before deleting them.
	PruneAfter time.Duration
}

type Store interface {
	Backup(ctx context.Context, dir string, now time.Time) (string, error)
	PruneExpiredLinks(ctx context.Context, cutoff time.Time) (int64, error)
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	store  Store
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context

	now func() time.Time
}

// parser accepts 5-field and 6-field (seconds) specs plus descriptors like "@daily".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec parses. Empty is valid (job disabled).
func ValidateSpec(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	_, err := parser.Parse(strings.TrimSpace(spec))
	return err
}

func New(cfg Config, store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: normalize(cfg), store: store, log: log, parser: parser, now: time.Now}
}

func normalize(cfg Config) Config {
	cfg.BackupCron = strings.TrimSpace(cfg.BackupCron)
	cfg.PruneCron = strings.TrimSpace(cfg.PruneCron)
	if cfg.PruneAfter <= 0 {
		cfg.PruneAfter = DefaultPruneAfter
	}
	return cfg
}

// Start registers the configured jobs and starts the cron runner.
// Nothing runs when both specs are empty.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	cur := s.cfg
	if cur.BackupCron == "" && cur.PruneCron == "" {
		s.log.Debug("maintenance disabled (no cron specs)")
		return nil
	}

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(time.Local),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if cur.BackupCron != "" {
		if _, err := c.AddFunc(cur.BackupCron, func() { s.RunBackup(s.ctx) }); err != nil {
			return fmt.Errorf("maintenance.backup_cron: %w", err)
		}
	}
	if cur.PruneCron != "" {
		if _, err := c.AddFunc(cur.PruneCron, func() { s.RunPrune(s.ctx) }); err != nil {
			return fmt.Errorf("maintenance.prune_cron: %w", err)
		}
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance started",
		logx.String("backup_cron", cur.BackupCron),
		logx.String("prune_cron", cur.PruneCron),
		logx.Int("jobs", len(c.Entries())),
	)
	return nil
}

// Apply swaps the config and re-registers jobs when the service is running.
func (s *Service) Apply(cfg Config) error {
	cfg = normalize(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.c == nil || prev == cfg {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = nil
	return s.startLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("maintenance stopped")
}

// Entries is the number of registered jobs.
func (s *Service) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return 0
	}
	return len(s.c.Entries())
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// RunBackup writes one backup now. Drivers without file backups are skipped.
func (s *Service) RunBackup(ctx context.Context) {
	cur := s.config()
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := s.now()
	path, err := s.store.Backup(ctx, cur.BackupDir, start)
	switch {
	case errors.Is(err, storage.ErrUnsupported):
		s.log.Debug("backup skipped", logx.Err(err))
	case err != nil:
		s.log.Error("backup failed", logx.String("dir", cur.BackupDir), logx.Err(err))
	default:
		s.log.Info("backup written", logx.String("path", path), logx.Duration("took", time.Since(start)))
	}
}

// RunPrune deletes keyword links that expired more than PruneAfter ago.
func (s *Service) RunPrune(ctx context.Context) {
	cur := s.config()
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	cutoff := s.now().Add(-cur.PruneAfter)
	n, err := s.store.PruneExpiredLinks(ctx, cutoff)
	if err != nil {
		s.log.Error("prune expired links failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("expired links pruned", logx.Int64("count", n), logx.Time("cutoff", cutoff))
	}
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
