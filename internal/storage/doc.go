// Package storage is mailbot's relational persistence layer.
//
// One Store implementation runs on either SQLite (modernc, pure Go) or
// PostgreSQL (pgx stdlib driver). Queries are written with "?" placeholders
// and rebound per dialect. Instants are stored as unix milliseconds.
//
// Store satisfies the collaborator contracts of the scheduler, audience,
// content and keyword packages.
package storage
