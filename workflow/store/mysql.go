package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed CheckpointStore.
//
// Suited to production deployments where multiple orchestrator processes
// share checkpoint storage, and to long-running workflows that must survive
// host restarts. Uses connection pooling; add parseTime=true to the DSN so
// timestamps scan into time.Time.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLStore connects using a go-sql-driver DSN, for example
// "user:pass@tcp(localhost:3306)/conductor?parseTime=true". Credentials
// belong in the environment, not in source.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY unique_execution_seq (execution_id, seq),
			INDEX idx_execution (execution_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save persists cp, replacing any earlier write with the same Seq.
func (s *MySQLStore) Save(ctx context.Context, cp Checkpoint) error {
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
		ON DUPLICATE KEY UPDATE state = VALUES(state), created_at = VALUES(created_at)`,
		cp.ExecutionID, cp.Seq, string(cp.State), createdAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the highest-Seq checkpoint for the execution.
func (s *MySQLStore) LoadLatest(ctx context.Context, executionID string) (Checkpoint, error) {
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
func (s *MySQLStore) List(ctx context.Context, executionID string) ([]Checkpoint, error) {
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
func (s *MySQLStore) Delete(ctx context.Context, executionID string) error {
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

// Close closes the connection pool.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *MySQLStore) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}
	return nil
}

var _ CheckpointStore = (*MySQLStore)(nil)
