package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/rmedgar/nekowat/internal/wat"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
	"github.com/rmedgar/nekowat/pkg/postgres"
)

// Store persists the image catalog in PostgreSQL.
//
// It requires the following tables:
//
//	CREATE TABLE wats (
//	    id       TEXT PRIMARY KEY,
//	    name     TEXT NOT NULL,
//	    file_ids TEXT[] NOT NULL,
//	    added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE TABLE wat_tags (
//	    wat_id TEXT NOT NULL REFERENCES wats(id) ON DELETE CASCADE,
//	    tag    TEXT NOT NULL,
//	    PRIMARY KEY (wat_id, tag)
//	);
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a catalog persistence store.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "catalog-store"),
	}
}

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// Insert stores a record and its tags in one transaction. Inserting an id
// that already exists fails with ErrDuplicateImage.
func (s *Store) Insert(ctx context.Context, record *wat.WAT) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO wats (id, name, file_ids, added_at) VALUES ($1, $2, $3, $4)`,
			record.ID, record.Name, pq.Array(record.FileIDs), record.AddedAt.UTC(),
		)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %q", apperrors.ErrDuplicateImage, record.ID)
			}
			return err
		}
		return insertTags(ctx, tx, record.ID, record.Tags)
	})
	if err != nil {
		return fmt.Errorf("inserting wat %q: %w", record.ID, err)
	}
	return nil
}

// Delete removes a record. Tags cascade. Fails with ErrNotFound when the id
// is unknown.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM wats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting wat %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting wat %q: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: wat %q", apperrors.ErrNotFound, id)
	}
	return nil
}

// SetTags replaces a record's tag set in one transaction.
func (s *Store) SetTags(ctx context.Context, id string, tags []string) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM wats WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: wat %q", apperrors.ErrNotFound, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM wat_tags WHERE wat_id = $1`, id); err != nil {
			return err
		}
		return insertTags(ctx, tx, id, tags)
	})
	if err != nil {
		return fmt.Errorf("setting tags for wat %q: %w", id, err)
	}
	return nil
}

// LoadAll reads the full catalog, tags included, ordered by insertion time.
// Used at startup to rebuild the in-memory index.
func (s *Store) LoadAll(ctx context.Context) ([]*wat.WAT, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, name, file_ids, added_at FROM wats ORDER BY added_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading wats: %w", err)
	}
	defer rows.Close()

	var records []*wat.WAT
	byID := make(map[string]*wat.WAT)
	for rows.Next() {
		var (
			record  wat.WAT
			fileIDs pq.StringArray
			addedAt time.Time
		)
		if err := rows.Scan(&record.ID, &record.Name, &fileIDs, &addedAt); err != nil {
			return nil, fmt.Errorf("scanning wat row: %w", err)
		}
		record.FileIDs = []string(fileIDs)
		record.AddedAt = addedAt
		records = append(records, &record)
		byID[record.ID] = &record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading wats: %w", err)
	}

	tagRows, err := s.db.DB.QueryContext(ctx, `SELECT wat_id, tag FROM wat_tags`)
	if err != nil {
		return nil, fmt.Errorf("loading wat tags: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var watID, tag string
		if err := tagRows.Scan(&watID, &tag); err != nil {
			return nil, fmt.Errorf("scanning tag row: %w", err)
		}
		record, ok := byID[watID]
		if !ok {
			s.logger.Warn("orphan tag row", "wat_id", watID, "tag", tag)
			continue
		}
		record.Tags = append(record.Tags, tag)
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("loading wat tags: %w", err)
	}

	s.logger.Info("catalog loaded", "wats", len(records))
	return records, nil
}

func insertTags(ctx context.Context, tx *sql.Tx, watID string, tags []string) error {
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wat_tags (wat_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			watID, tag,
		); err != nil {
			return fmt.Errorf("inserting tag %q: %w", tag, err)
		}
	}
	return nil
}
