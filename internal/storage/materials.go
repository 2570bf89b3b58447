package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mailbot/internal/keyword"
)

// PutMaterial stores (or replaces) the payload for a keyword and its link policy.
func (s *Store) PutMaterial(ctx context.Context, kw string, payload []byte, policy LinkPolicy) (int64, error) {
	var materialID int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.queryRow(ctx, tx,
			`INSERT INTO materials (keyword, payload, created_at) VALUES (?, ?, ?)
			 ON CONFLICT (keyword) DO UPDATE SET payload = excluded.payload
			 RETURNING id`,
			kw, string(payload), time.Now().UnixMilli()).Scan(&materialID); err != nil {
			return fmt.Errorf("upsert material: %w", err)
		}
		var expires, maxClicks any
		if !policy.ExpiresAt.IsZero() {
			expires = policy.ExpiresAt.UnixMilli()
		}
		if policy.MaxClicks > 0 {
			maxClicks = policy.MaxClicks
		}
		if _, err := s.exec(ctx, tx,
			`INSERT INTO keyword_links (material_id, expires_at, max_clicks, click_count) VALUES (?, ?, ?, 0)
			 ON CONFLICT (material_id) DO UPDATE SET expires_at = excluded.expires_at, max_clicks = excluded.max_clicks`,
			materialID, expires, maxClicks); err != nil {
			return fmt.Errorf("upsert link: %w", err)
		}
		return nil
	})
	return materialID, err
}

// MaterialPayload returns the stored payload JSON for a keyword.
func (s *Store) MaterialPayload(ctx context.Context, kw string) ([]byte, error) {
	var payload string
	err := s.queryRow(ctx, s.db, `SELECT payload FROM materials WHERE keyword = ?`, kw).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("material %q: %w", kw, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// LinkByKeyword loads a keyword link together with its material.
func (s *Store) LinkByKeyword(ctx context.Context, kw string) (keyword.Link, bool, error) {
	var (
		l         keyword.Link
		payload   string
		expires   sql.NullInt64
		maxClicks sql.NullInt64
	)
	err := s.queryRow(ctx, s.db,
		`SELECT k.id, m.id, m.keyword, m.payload, k.expires_at, k.max_clicks, k.click_count
		 FROM keyword_links k JOIN materials m ON m.id = k.material_id
		 WHERE m.keyword = ?`, kw).
		Scan(&l.ID, &l.MaterialID, &l.Keyword, &payload, &expires, &maxClicks, &l.Clicks)
	if errors.Is(err, sql.ErrNoRows) {
		return keyword.Link{}, false, nil
	}
	if err != nil {
		return keyword.Link{}, false, err
	}
	l.Payload = []byte(payload)
	if expires.Valid {
		l.ExpiresAt = time.UnixMilli(expires.Int64).UTC()
	}
	if maxClicks.Valid {
		l.MaxClicks = int(maxClicks.Int64)
	}
	return l, true, nil
}

// RecordAccess counts a click, upserts the visitor and stores the view in one
// transaction. The click only counts while the limit has not been reached.
func (s *Store) RecordAccess(ctx context.Context, l keyword.Link, v keyword.Visitor, now time.Time) (bool, error) {
	counted := false
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx,
			`UPDATE keyword_links SET click_count = click_count + 1
			 WHERE id = ? AND (max_clicks IS NULL OR click_count < max_clicks)`, l.ID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		accountID, err := s.upsertAccount(ctx, tx, v.TgID, v.Username, "", now)
		if err != nil {
			return fmt.Errorf("upsert visitor: %w", err)
		}
		if _, err := s.exec(ctx, tx,
			`INSERT INTO material_views (account_id, material_id, viewed_at) VALUES (?, ?, ?)`,
			accountID, l.MaterialID, now.UnixMilli()); err != nil {
			return fmt.Errorf("insert view: %w", err)
		}
		counted = true
		return nil
	})
	return counted, err
}
