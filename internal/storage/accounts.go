package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"mailbot/internal/audience"
)

// AccountsWithStatus returns accounts whose normalized status equals tag.
// Normalization happens in Go: sqlite's lower() only folds ASCII.
func (s *Store) AccountsWithStatus(ctx context.Context, tag string) ([]audience.Account, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT id, tg_id, status FROM accounts WHERE status_norm = ? ORDER BY id`,
		audience.NormalizeStatus(tag))
	if err != nil {
		return nil, err
	}
	return scanAccounts(rows)
}

// ContentForKeyword maps a keyword to its material id.
func (s *Store) ContentForKeyword(ctx context.Context, keyword string) (int64, bool, error) {
	var id int64
	err := s.queryRow(ctx, s.db, `SELECT id FROM materials WHERE keyword = ?`, keyword).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ViewersOf returns every account with at least one view of the material.
func (s *Store) ViewersOf(ctx context.Context, contentID int64) ([]audience.Account, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT a.id, a.tg_id, a.status FROM accounts a
		 WHERE a.id IN (SELECT v.account_id FROM material_views v WHERE v.material_id = ?)
		 ORDER BY a.id`, contentID)
	if err != nil {
		return nil, err
	}
	return scanAccounts(rows)
}

func scanAccounts(rows *sql.Rows) ([]audience.Account, error) {
	defer rows.Close()
	var out []audience.Account
	for rows.Next() {
		var a audience.Account
		if err := rows.Scan(&a.ID, &a.TgID, &a.Status); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAccount creates or updates the account for tgID and returns its id.
// An empty status leaves an existing status untouched.
func (s *Store) UpsertAccount(ctx context.Context, tgID int64, username, status string) (int64, error) {
	return s.upsertAccount(ctx, s.db, tgID, username, status, time.Now())
}

func (s *Store) upsertAccount(ctx context.Context, q querier, tgID int64, username, status string, now time.Time) (int64, error) {
	var id int64
	err := s.queryRow(ctx, q,
		`INSERT INTO accounts (tg_id, username, status, status_norm, created_at, last_interaction)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tg_id) WHERE tg_id <> '' DO UPDATE SET
		   username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE accounts.username END,
		   status = CASE WHEN excluded.status <> '' THEN excluded.status ELSE accounts.status END,
		   status_norm = CASE WHEN excluded.status <> '' THEN excluded.status_norm ELSE accounts.status_norm END,
		   last_interaction = excluded.last_interaction
		 RETURNING id`,
		strconv.FormatInt(tgID, 10), username, status, audience.NormalizeStatus(status),
		now.UnixMilli(), now.UnixMilli()).Scan(&id)
	return id, err
}

// TouchAccount records an interaction, creating the account on first contact.
func (s *Store) TouchAccount(ctx context.Context, tgID int64, username string, at time.Time) error {
	_, err := s.upsertAccount(ctx, s.db, tgID, username, "", at)
	return err
}
