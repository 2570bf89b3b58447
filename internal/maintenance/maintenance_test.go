package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailbot/internal/storage"
	logx "mailbot/pkg/logx"
)

type fakeStore struct {
	backups   []string
	backupErr error
	cutoffs   []time.Time
}

func (f *fakeStore) Backup(ctx context.Context, dir string, now time.Time) (string, error) {
	if f.backupErr != nil {
		return "", f.backupErr
	}
	f.backups = append(f.backups, dir)
	return dir + "/x.db", nil
}

func (f *fakeStore) PruneExpiredLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 2, nil
}

func TestRunPruneUsesCutoff(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	s := New(Config{}, st, logx.Nop())
	now := time.Date(2024, 5, 31, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.RunPrune(context.Background())
	if len(st.cutoffs) != 1 || !st.cutoffs[0].Equal(now.Add(-DefaultPruneAfter)) {
		t.Fatalf("cutoffs = %v", st.cutoffs)
	}
}

func TestRunBackup(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	s := New(Config{BackupDir: "/var/backups/mailbot"}, st, logx.Nop())
	s.RunBackup(context.Background())
	if len(st.backups) != 1 || st.backups[0] != "/var/backups/mailbot" {
		t.Fatalf("backups = %v", st.backups)
	}

	st.backupErr = storage.ErrUnsupported
	s.RunBackup(context.Background())
	st.backupErr = errors.New("disk full")
	s.RunBackup(context.Background())
	if len(st.backups) != 1 {
		t.Fatalf("failed backups should not be recorded: %v", st.backups)
	}
}

func TestStartRegistersJobs(t *testing.T) {
	t.Parallel()

	s := New(Config{BackupCron: "@daily", BackupDir: "/tmp", PruneCron: "0 30 4 * * *"}, &fakeStore{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())
	if n := s.Entries(); n != 2 {
		t.Fatalf("entries = %d, want 2", n)
	}

	if err := s.Apply(Config{PruneCron: "@hourly"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n := s.Entries(); n != 1 {
		t.Fatalf("entries after apply = %d, want 1", n)
	}
}

func TestDisabledWithoutSpecs(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeStore{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := s.Entries(); n != 0 {
		t.Fatalf("entries = %d", n)
	}
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()

	for spec, ok := range map[string]bool{
		"":             true,
		"@daily":       true,
		"0 3 * * *":    true,
		"*/30 * * * *": true,
		"0 0 3 * * *":  true,
		"nonsense":     false,
		"61 * * * *":   false,
	} {
		if err := ValidateSpec(spec); (err == nil) != ok {
			t.Fatalf("ValidateSpec(%q) = %v", spec, err)
		}
	}
}
