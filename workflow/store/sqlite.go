package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed CheckpointStore.
//
// A single-file database with zero setup, suited to local workflows that
// must survive process restarts. Uses WAL mode so readers don't block
// behind the writer.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (and if necessary creates) the database at path.
// Use ":memory:" for an ephemeral database in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(execution_id, seq)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_execution ON workflow_checkpoints(execution_id, seq)")
	return err
}

// Save persists cp, replacing any earlier write with the same Seq.
func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	if err := s.ready(); err != nil {
		return err
	}
	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (execution_id, seq, state, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(execution_id, seq) DO UPDATE SET state=excluded.state, created_at=excluded.created_at`,
		cp.ExecutionID, cp.Seq, string(cp.State), createdAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the highest-Seq checkpoint for the execution.
func (s *SQLiteStore) LoadLatest(ctx context.Context, executionID string) (Checkpoint, error) {
	if err := s.ready(); err != nil {
		return Checkpoint{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, state, created_at FROM workflow_checkpoints
		WHERE execution_id = ? ORDER BY seq DESC LIMIT 1`, executionID)

	cp := Checkpoint{ExecutionID: executionID}
	var state string
	if err := row.Scan(&cp.Seq, &state, &cp.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.State = []byte(state)
	return cp, nil
}

// List returns the execution's checkpoints in ascending Seq order.
func (s *SQLiteStore) List(ctx context.Context, executionID string) ([]Checkpoint, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, state, created_at FROM workflow_checkpoints
		WHERE execution_id = ? ORDER BY seq ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp := Checkpoint{ExecutionID: executionID}
		var state string
		if err := rows.Scan(&cp.Seq, &state, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.State = []byte(state)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Delete removes the execution's checkpoints.
func (s *SQLiteStore) Delete(ctx context.Context, executionID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM workflow_checkpoints WHERE execution_id = ?", executionID)
	if err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}
	return nil
}

var _ CheckpointStore = (*SQLiteStore)(nil)
