// Package whitelist provides PostgreSQL persistence for the access gate's
// whitelist, so entries survive restarts.
package whitelist

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rmedgar/nekowat/internal/wat/gate"
	"github.com/rmedgar/nekowat/pkg/postgres"
)

// Store persists whitelist entries in PostgreSQL. It implements gate.Store.
//
// It requires a `whitelist_users` table:
//
//	CREATE TABLE whitelist_users (
//	    user_id  BIGINT PRIMARY KEY,
//	    name     TEXT NOT NULL DEFAULT '',
//	    added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a whitelist persistence store.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "whitelist-store"),
	}
}

// Put inserts or updates a whitelist entry. The gate serializes writers, so
// an upsert is safe and makes replays idempotent.
func (s *Store) Put(ctx context.Context, entry gate.Entry) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO whitelist_users (user_id, name, added_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name`,
		entry.UserID, entry.Name, entry.AddedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("persisting whitelist entry %d: %w", entry.UserID, err)
	}
	s.logger.Info("whitelist entry persisted", "user_id", entry.UserID)
	return nil
}

// Delete removes a whitelist entry. Deleting an absent entry is not an
// error; the gate has already validated presence.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	_, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM whitelist_users WHERE user_id = $1`, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting whitelist entry %d: %w", userID, err)
	}
	s.logger.Info("whitelist entry deleted", "user_id", userID)
	return nil
}

// LoadAll reads every whitelist entry, used to seed the gate at startup.
func (s *Store) LoadAll(ctx context.Context) ([]gate.Entry, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT user_id, name, added_at FROM whitelist_users ORDER BY added_at, user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading whitelist: %w", err)
	}
	defer rows.Close()

	var entries []gate.Entry
	for rows.Next() {
		var e gate.Entry
		if err := rows.Scan(&e.UserID, &e.Name, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scanning whitelist row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading whitelist: %w", err)
	}

	s.logger.Info("whitelist loaded", "entries", len(entries))
	return entries, nil
}
