package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed implementation of Store[S] for deployments
// where several processes share checkpoint durability (the at-most-one-
// executor invariant is still the registry's job; the store only persists).
//
// Same append-and-prune model as SQLiteStore, with a composite primary key
// on (run_id, sequence) so a racing duplicate write fails at the database.
//
// Type parameter S is the snapshot payload (must be JSON-serializable).
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL-backed store.
//
// The DSN follows go-sql-driver/mysql format, e.g.
// "user:pass@tcp(localhost:3306)/graphrun?parseTime=true". parseTime=true is
// required so created_at scans into time.Time.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach MySQL: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore[S]) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS run_checkpoints (
    run_id     VARCHAR(255) NOT NULL,
    sequence   INT          NOT NULL,
    state      LONGTEXT     NOT NULL,
    created_at DATETIME(6)  NOT NULL,
    PRIMARY KEY (run_id, sequence)
)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate checkpoint schema: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *MySQLStore[S]) Save(ctx context.Context, cp Checkpoint[S]) error {
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

// LoadLatest implements Store.
func (s *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
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

// Prune deletes all but the newest keep checkpoints for a run.
func (s *MySQLStore[S]) Prune(ctx context.Context, runID string, keep int) error {
	if keep < 1 {
		keep = 1
	}

	// MySQL cannot delete from a table it subselects; resolve the cutoff
	// sequence first.
	rows, err := s.db.QueryContext(ctx,
		"SELECT sequence FROM run_checkpoints WHERE run_id = ? ORDER BY sequence DESC LIMIT ?",
		runID, keep,
	)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints for pruning: %w", err)
	}
	defer rows.Close()

	var cutoff int
	found := false
	for rows.Next() {
		if err := rows.Scan(&cutoff); err != nil {
			return fmt.Errorf("failed to scan checkpoint sequence: %w", err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	if !found {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM run_checkpoints WHERE run_id = ? AND sequence < ?",
		runID, cutoff,
	)
	if err != nil {
		return fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore[S]) Close() error {
	return s.db.Close()
}
