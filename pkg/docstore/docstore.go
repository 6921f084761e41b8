// Package docstore keeps the per-user document catalog in Postgres: which
// files each user has ingested, how many chunks each produced, and when.
// The vector store holds the chunks themselves; this is the bookkeeping
// beside it.
package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DocumentRecord is one ingested file for one user.
type DocumentRecord struct {
	Username     string    `json:"username"`
	Filename     string    `json:"filename"`
	ChunksStored int       `json:"chunks_stored"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	username     TEXT        NOT NULL,
	filename     TEXT        NOT NULL,
	chunks_stored INTEGER    NOT NULL DEFAULT 0,
	uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (username, filename)
);
CREATE INDEX IF NOT EXISTS documents_username_idx ON documents (username);
`

// Store is a Postgres-backed document catalog.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the database, verifies connectivity, and bootstraps the schema.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("docstore: database URL is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("docstore: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore: bootstrap: %w", err)
	}
	logger.Info("docstore ready")

	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing database handle. Used in tests.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertDocument records an ingested file, replacing any previous record for
// the same user and filename. Re-uploading a document is a replace, and the
// catalog row follows the same rule.
func (s *Store) UpsertDocument(ctx context.Context, username, filename string, chunks int, uploadedAt time.Time) error {
	const q = `
		INSERT INTO documents (username, filename, chunks_stored, uploaded_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
		ON CONFLICT (username, filename)
		DO UPDATE SET chunks_stored = EXCLUDED.chunks_stored, uploaded_at = EXCLUDED.uploaded_at
	`
	var ts any
	if !uploadedAt.IsZero() {
		ts = uploadedAt
	}
	if _, err := s.db.ExecContext(ctx, q, username, filename, chunks, ts); err != nil {
		return fmt.Errorf("docstore: upsert %s/%s: %w", username, filename, err)
	}
	return nil
}

// GetDocument returns the record for a user's file, or nil when absent.
func (s *Store) GetDocument(ctx context.Context, username, filename string) (*DocumentRecord, error) {
	const q = `
		SELECT username, filename, chunks_stored, uploaded_at
		FROM documents WHERE username = $1 AND filename = $2
	`
	var rec DocumentRecord
	err := s.db.QueryRowContext(ctx, q, username, filename).Scan(
		&rec.Username, &rec.Filename, &rec.ChunksStored, &rec.UploadedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s/%s: %w", username, filename, err)
	}
	return &rec, nil
}

// ListDocuments returns all of a user's records, newest first.
func (s *Store) ListDocuments(ctx context.Context, username string) ([]DocumentRecord, error) {
	const q = `
		SELECT username, filename, chunks_stored, uploaded_at
		FROM documents WHERE username = $1
		ORDER BY uploaded_at DESC
	`
	rows, err := s.db.QueryContext(ctx, q, username)
	if err != nil {
		return nil, fmt.Errorf("docstore: list %s: %w", username, err)
	}
	defer rows.Close()

	var out []DocumentRecord
	for rows.Next() {
		var rec DocumentRecord
		if err := rows.Scan(&rec.Username, &rec.Filename, &rec.ChunksStored, &rec.UploadedAt); err != nil {
			return nil, fmt.Errorf("docstore: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: list %s: %w", username, err)
	}
	return out, nil
}

// DeleteDocument removes a record, reporting whether it existed.
func (s *Store) DeleteDocument(ctx context.Context, username, filename string) (bool, error) {
	const q = `DELETE FROM documents WHERE username = $1 AND filename = $2`
	res, err := s.db.ExecContext(ctx, q, username, filename)
	if err != nil {
		return false, fmt.Errorf("docstore: delete %s/%s: %w", username, filename, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
