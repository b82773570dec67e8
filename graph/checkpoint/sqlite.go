package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of Store[S].
//
// Checkpoints are appended as rows and LoadLatest selects the highest
// sequence, so full checkpoint history survives restarts until pruned.
//
// Designed for:
//   - Durable pause/resume on a single host with zero setup
//   - Development before migrating to a shared database
//
// The store enables WAL mode for concurrent reads and auto-migrates its
// schema on first use.
//
// Schema:
//
//	run_checkpoints(run_id, sequence, state, created_at)
//	    PRIMARY KEY (run_id, sequence)
//
// Type parameter S is the snapshot payload (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at the
// given path. Use ":memory:" for an in-memory database in tests.
//
// Example:
//
//	store, err := checkpoint.NewSQLiteStore[graph.Snapshot]("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite supports a single writer; keep one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore[S]{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore[S]) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS run_checkpoints (
    run_id     TEXT      NOT NULL,
    sequence   INTEGER   NOT NULL,
    state      TEXT      NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (run_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_run_checkpoints_run
    ON run_checkpoints (run_id, sequence DESC);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate checkpoint schema: %w", err)
	}
	return nil
}

// Save implements Store. Each checkpoint becomes a new row; writing an
// already-used or lower sequence fails with ErrStaleSequence.
func (s *SQLiteStore[S]) Save(ctx context.Context, cp Checkpoint[S]) error {
	var maxSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(sequence) FROM run_checkpoints WHERE run_id = ?", cp.RunID,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint sequence: %w", err)
	}
	if maxSeq.Valid && cp.Sequence <= int(maxSeq.Int64) {
		return ErrStaleSequence
	}

	payload, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO run_checkpoints (run_id, sequence, state, created_at) VALUES (?, ?, ?, ?)",
		cp.RunID, cp.Sequence, string(payload), createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

// LoadLatest implements Store: returns the row with the highest sequence.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
	var (
		cp      Checkpoint[S]
		payload string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, sequence, state, created_at
		   FROM run_checkpoints
		  WHERE run_id = ?
		  ORDER BY sequence DESC
		  LIMIT 1`, runID,
	).Scan(&cp.RunID, &cp.Sequence, &payload, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, ErrNotFound
	}
	if err != nil {
		return cp, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &cp.State); err != nil {
		return cp, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	return cp, nil
}

// Prune deletes all but the newest keep checkpoints for a run. keep < 1 is
// treated as 1: the latest checkpoint is never pruned.
func (s *SQLiteStore[S]) Prune(ctx context.Context, runID string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM run_checkpoints
		  WHERE run_id = ?
		    AND sequence NOT IN (
		        SELECT sequence FROM run_checkpoints
		         WHERE run_id = ?
		         ORDER BY sequence DESC
		         LIMIT ?)`,
		runID, runID, keep,
	)
	if err != nil {
		return fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}
