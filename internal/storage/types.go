package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict reports a conditional write that matched no row.
	ErrConflict = errors.New("storage: conflict")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reachable through DSN
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only
}

// CampaignSummary is one row of the operator listing.
type CampaignSummary struct {
	ID        int64
	Title     string
	Active    bool
	Kind      string
	NextDue   time.Time
	Scheduled bool // false when no schedule is active
	Rules     int
}

// LinkPolicy limits a keyword link. Zero values mean unlimited.
type LinkPolicy struct {
	ExpiresAt time.Time
	MaxClicks int
}
