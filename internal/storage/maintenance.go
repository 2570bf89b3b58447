package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "mailbot/pkg/logx"
)

// ErrUnsupported is returned for operations the active driver cannot perform.
var ErrUnsupported = errors.New("storage: unsupported by driver")

// Backup writes a consistent snapshot of a sqlite database into dir and
// returns the file path.
func (s *Store) Backup(ctx context.Context, dir string, now time.Time) (string, error) {
	if s.d != dialectSQLite {
		return "", fmt.Errorf("backup: %w", ErrUnsupported)
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", errors.New("backup: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "mailbot-"+now.UTC().Format("20060102-150405")+".db")
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	s.log.Info("database backup written", logx.String("path", path))
	return path, nil
}

// PruneExpiredLinks deletes links that expired before cutoff. Materials and
// their views stay: they still define keyword audiences.
func (s *Store) PruneExpiredLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, s.db,
		`DELETE FROM keyword_links WHERE expires_at IS NOT NULL AND expires_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
