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

// MySQLStore is a durable Store backed by MySQL or Aurora MySQL.
//
// Checkpoints are upserted with ON DUPLICATE KEY UPDATE, one row per
// thread, so concurrent writers for the same thread never interleave into
// a partial record. Suitable when several foundry processes share one
// database.
//
// The DSN format is the go-sql-driver one:
//
//	user:password@tcp(host:3306)/dbname
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects, pings, and creates the schema if needed.
//
// Example:
//
//	st, err := store.NewMySQLStore[workflow.State]("foundry:secret@tcp(localhost:3306)/foundry")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore[S]{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			created_at VARCHAR(40) NOT NULL,
			UNIQUE KEY unique_thread_step (thread_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create workflow_steps table: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			next_node VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			state JSON NOT NULL,
			updated_at VARCHAR(40) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create workflow_checkpoints table: %w", err)
	}

	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.New("store is closed")
	}
	return nil
}

// SaveStep upserts the step record.
func (m *MySQLStore[S]) SaveStep(ctx context.Context, threadID string, step int, nodeID string, state S) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	data, err := encodeState(state)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_steps (thread_id, step, node_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state)
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := m.db.ExecContext(ctx, query, threadID, step, nodeID, string(data), now); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest returns the highest step recorded for the thread.
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, threadID string) (state S, step int, err error) {
	if err := m.checkOpen(); err != nil {
		return state, 0, err
	}

	query := `
		SELECT step, state
		FROM workflow_steps
		WHERE thread_id = ?
		ORDER BY step DESC
		LIMIT 1
	`

	var data []byte
	err = m.db.QueryRowContext(ctx, query, threadID).Scan(&step, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return state, 0, ErrNotFound
	}
	if err != nil {
		return state, 0, fmt.Errorf("failed to load latest step: %w", err)
	}

	state, err = decodeState[S](data)
	if err != nil {
		return state, 0, err
	}
	return state, step, nil
}

// SaveCheckpoint upserts the thread's checkpoint row.
func (m *MySQLStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	data, err := encodeState(cp.State)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_checkpoints (thread_id, step, node_id, next_node, status, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			step = VALUES(step),
			node_id = VALUES(node_id),
			next_node = VALUES(next_node),
			status = VALUES(status),
			state = VALUES(state),
			updated_at = VALUES(updated_at)
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = m.db.ExecContext(ctx, query, cp.ThreadID, cp.Step, cp.NodeID, cp.Next, string(cp.Status), string(data), now)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the thread's checkpoint row.
func (m *MySQLStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	query := `
		SELECT thread_id, step, node_id, next_node, status, state, updated_at
		FROM workflow_checkpoints
		WHERE thread_id = ?
	`
	cp, err := scanCheckpoint[S](m.db.QueryRowContext(ctx, query, threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	return cp, err
}

// ListCheckpoints returns every checkpoint ordered by thread ID.
func (m *MySQLStore[S]) ListCheckpoints(ctx context.Context) ([]Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT thread_id, step, node_id, next_node, status, state, updated_at
		FROM workflow_checkpoints
		ORDER BY thread_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint[S]
	for rows.Next() {
		cp, err := scanCheckpoint[S](rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Close closes the connection pool. Calling Close twice is a no-op.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
