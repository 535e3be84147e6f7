package gyanmitra

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/Ash-D3v/GyanMitra/observability"
)

// SQLiteSummaryStore is a SummaryStore backed by a local SQLite database,
// the durable mirror for desktop and CLI hosts.
type SQLiteSummaryStore struct {
	db     *sql.DB
	logger observability.Logger
}

// NewSQLiteSummaryStore wraps an open SQLite database and creates the
// summaries table if it does not exist.
//
// Example usage:
//
//	db, err := sql.Open("sqlite3", "/home/user/.gyanmitra/history.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := gyanmitra.NewSQLiteSummaryStore(db, observability.NewNullLogger())
func NewSQLiteSummaryStore(db *sql.DB, logger observability.Logger) (*SQLiteSummaryStore, error) {
	store := &SQLiteSummaryStore{db: db, logger: logger}
	if err := store.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize summary schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteSummaryStore) initSchema(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS conversation_summaries (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	createIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_summaries_updated_at
	ON conversation_summaries (updated_at);`

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create summaries table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("failed to create summaries index: %w", err)
	}
	s.logger.Debug("sqlite summary schema ready")
	return nil
}

// Upsert inserts or replaces a summary by id.
func (s *SQLiteSummaryStore) Upsert(ctx context.Context, summary ConversationSummary) error {
	upsertSQL := `
	INSERT INTO conversation_summaries (id, title, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, upsertSQL, summary.ID, summary.Title, summary.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert summary %s: %w", summary.ID, err)
	}
	return nil
}

// List returns all summaries ordered by UpdatedAt descending.
func (s *SQLiteSummaryStore) List(ctx context.Context) ([]ConversationSummary, error) {
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
func (s *SQLiteSummaryStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_summaries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete summary %s: %w", id, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteSummaryStore) Close() error { return s.db.Close() }
