package gyanmitra

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/Ash-D3v/GyanMitra/observability"
)

// PostgresSummaryStore is a SummaryStore backed by PostgreSQL, for hosts
// that mirror history server-side (shared kiosks, school lab deployments
// where the device holds no local state).
type PostgresSummaryStore struct {
	db     *sql.DB
	logger observability.Logger
}

// NewPostgresSummaryStore wraps an open Postgres connection and creates the
// summaries table if it does not exist.
func NewPostgresSummaryStore(db *sql.DB, logger observability.Logger) (*PostgresSummaryStore, error) {
	store := &PostgresSummaryStore{db: db, logger: logger}
	if err := store.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize summary schema: %w", err)
	}
	return store, nil
}

func (s *PostgresSummaryStore) initSchema(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS conversation_summaries (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create summaries table: %w", err)
	}
	s.logger.Debug("postgres summary schema ready")
	return nil
}

// Upsert inserts or replaces a summary by id.
func (s *PostgresSummaryStore) Upsert(ctx context.Context, summary ConversationSummary) error {
	upsertSQL := `
	INSERT INTO conversation_summaries (id, title, updated_at) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, upsertSQL, summary.ID, summary.Title, summary.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert summary %s: %w", summary.ID, err)
	}
	return nil
}

// List returns all summaries ordered by UpdatedAt descending.
func (s *PostgresSummaryStore) List(ctx context.Context) ([]ConversationSummary, error) {
	listSQL := `
	SELECT id, title, updated_at FROM conversation_summaries
	ORDER BY updated_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var summary ConversationSummary
		if err := rows.Scan(&summary.ID, &summary.Title, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}
	return out, nil
}

// Delete removes a summary by id. Absent ids are success.
func (s *PostgresSummaryStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_summaries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete summary %s: %w", id, err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresSummaryStore) Close() error { return s.db.Close() }
