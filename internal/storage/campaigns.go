package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mailbot/internal/campaign"
)

const scheduleColumns = `id, campaign_id, kind, days, hour, minute, next_due, active`

// DueSchedules returns active schedules with next_due <= now, oldest first.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]campaign.Schedule, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+scheduleColumns+` FROM campaign_schedules
		 WHERE active = 1 AND next_due <= ?
		 ORDER BY next_due, id`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []campaign.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func scanSchedule(rows *sql.Rows) (campaign.Schedule, error) {
	var (
		sc      campaign.Schedule
		kind    string
		days    string
		nextDue int64
		active  int
	)
	if err := rows.Scan(&sc.ID, &sc.CampaignID, &kind, &days, &sc.Hour, &sc.Minute, &nextDue, &active); err != nil {
		return campaign.Schedule{}, err
	}
	sc.Kind = campaign.Kind(kind)
	sc.NextDue = time.UnixMilli(nextDue).UTC()
	sc.Active = active != 0
	// Unparsable day lists surface later as a recurrence fault, not a scan error.
	sc.Days, _ = campaign.ParseDays(days)
	return sc, nil
}

// LoadCampaign returns a campaign with its rules, or ErrNotFound.
func (s *Store) LoadCampaign(ctx context.Context, id int64) (campaign.Campaign, error) {
	var (
		c       campaign.Campaign
		active  int
		created int64
	)
	err := s.queryRow(ctx, s.db,
		`SELECT id, title, payload_ref, active, created_at FROM campaigns WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.PayloadRef, &active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Campaign{}, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return campaign.Campaign{}, err
	}
	c.Active = active != 0
	c.CreatedAt = time.UnixMilli(created).UTC()

	rows, err := s.query(ctx, s.db,
		`SELECT kind, value FROM campaign_rules WHERE campaign_id = ? ORDER BY id`, id)
	if err != nil {
		return campaign.Campaign{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var r campaign.Rule
		var kind string
		if err := rows.Scan(&kind, &r.Value); err != nil {
			return campaign.Campaign{}, err
		}
		r.Kind = campaign.RuleKind(kind)
		c.Rules = append(c.Rules, r)
	}
	return c, rows.Err()
}

// SaveSchedule persists the advance (or deactivation) of a fired schedule.
// The write only applies while the row is still active with next_due equal to
// prevDue; otherwise ErrConflict is returned and nothing changes.
func (s *Store) SaveSchedule(ctx context.Context, sc campaign.Schedule, prevDue time.Time) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE campaign_schedules SET next_due = ?, active = ?
		 WHERE id = ? AND active = 1 AND next_due = ?`,
		sc.NextDue.UnixMilli(), boolInt(sc.Active), sc.ID, prevDue.UnixMilli())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %d: %w", sc.ID, ErrConflict)
	}
	return nil
}

// CreateCampaign stores a campaign, its rules and its schedule in one
// transaction and returns the new campaign and schedule ids.
func (s *Store) CreateCampaign(ctx context.Context, c campaign.Campaign, sc campaign.Schedule) (int64, int64, error) {
	if err := c.Validate(); err != nil {
		return 0, 0, err
	}
	if err := sc.Validate(); err != nil {
		return 0, 0, err
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	var campaignID, scheduleID int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.queryRow(ctx, tx,
			`INSERT INTO campaigns (title, payload_ref, active, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
			c.Title, c.PayloadRef, boolInt(c.Active), c.CreatedAt.UnixMilli()).Scan(&campaignID); err != nil {
			return fmt.Errorf("insert campaign: %w", err)
		}
		for _, r := range c.Rules {
			if _, err := s.exec(ctx, tx,
				`INSERT INTO campaign_rules (campaign_id, kind, value) VALUES (?, ?, ?)`,
				campaignID, string(r.Kind), r.Value); err != nil {
				return fmt.Errorf("insert rule: %w", err)
			}
		}
		if err := s.queryRow(ctx, tx,
			`INSERT INTO campaign_schedules (campaign_id, kind, days, hour, minute, next_due, active)
			 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			campaignID, string(sc.Kind), campaign.FormatDays(sc.Days), sc.Hour, sc.Minute,
			sc.NextDue.UnixMilli(), boolInt(sc.Active)).Scan(&scheduleID); err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		return nil
	})
	return campaignID, scheduleID, err
}

// ListCampaigns summarizes campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context, limit int) ([]CampaignSummary, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.query(ctx, s.db,
		`SELECT c.id, c.title, c.active,
		        COALESCE((SELECT sc.kind FROM campaign_schedules sc WHERE sc.campaign_id = c.id AND sc.active = 1 ORDER BY sc.next_due LIMIT 1), ''),
		        COALESCE((SELECT MIN(sc.next_due) FROM campaign_schedules sc WHERE sc.campaign_id = c.id AND sc.active = 1), 0),
		        (SELECT COUNT(*) FROM campaign_rules r WHERE r.campaign_id = c.id)
		 FROM campaigns c
		 ORDER BY c.id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CampaignSummary
	for rows.Next() {
		var (
			cs      CampaignSummary
			active  int
			nextDue int64
		)
		if err := rows.Scan(&cs.ID, &cs.Title, &active, &cs.Kind, &nextDue, &cs.Rules); err != nil {
			return nil, err
		}
		cs.Active = active != 0
		if cs.Kind != "" {
			cs.Scheduled = true
			cs.NextDue = time.UnixMilli(nextDue).UTC()
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// SetCampaignActive soft-deletes (or restores) a campaign. Schedules are left
// as they are so a reactivated campaign resumes firing.
func (s *Store) SetCampaignActive(ctx context.Context, id int64, active bool) error {
	res, err := s.exec(ctx, s.db, `UPDATE campaigns SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	return nil
}
