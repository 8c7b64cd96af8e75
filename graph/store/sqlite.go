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

// SQLiteStore is a single-file durable Store backed by modernc.org/sqlite.
//
// The database runs in WAL mode with a single open connection, which
// serializes writers and gives per-thread atomic upserts without explicit
// locking. Use ":memory:" for an ephemeral database in tests.
//
// Example:
//
//	st, err := store.NewSQLiteStore[workflow.State]("./foundry.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(thread_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create workflow_steps table: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			thread_id TEXT NOT NULL PRIMARY KEY,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			next_node TEXT NOT NULL,
			status TEXT NOT NULL,
			state TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create workflow_checkpoints table: %w", err)
	}

	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("store is closed")
	}
	return nil
}

// SaveStep upserts the step record.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, threadID string, step int, nodeID string, state S) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := encodeState(state)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_steps (thread_id, step, node_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, query, threadID, step, nodeID, string(data), now); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest returns the highest step recorded for the thread.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, threadID string) (state S, step int, err error) {
	if err := s.checkOpen(); err != nil {
		return state, 0, err
	}

	query := `
		SELECT step, state
		FROM workflow_steps
		WHERE thread_id = ?
		ORDER BY step DESC
		LIMIT 1
	`

	var data string
	err = s.db.QueryRowContext(ctx, query, threadID).Scan(&step, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return state, 0, ErrNotFound
	}
	if err != nil {
		return state, 0, fmt.Errorf("failed to load latest step: %w", err)
	}

	state, err = decodeState[S]([]byte(data))
	if err != nil {
		return state, 0, err
	}
	return state, step, nil
}

// SaveCheckpoint upserts the thread's checkpoint row.
func (s *SQLiteStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := encodeState(cp.State)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_checkpoints (thread_id, step, node_id, next_node, status, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			step = excluded.step,
			node_id = excluded.node_id,
			next_node = excluded.next_node,
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, query, cp.ThreadID, cp.Step, cp.NodeID, cp.Next, string(cp.Status), string(data), now)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the thread's checkpoint row.
func (s *SQLiteStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	query := `
		SELECT thread_id, step, node_id, next_node, status, state, updated_at
		FROM workflow_checkpoints
		WHERE thread_id = ?
	`
	cp, err := scanCheckpoint[S](s.db.QueryRowContext(ctx, query, threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	return cp, err
}

// ListCheckpoints returns every checkpoint ordered by thread ID.
func (s *SQLiteStore[S]) ListCheckpoints(ctx context.Context) ([]Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
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

// Close releases the database handle. Further calls return an error.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint[S any](row rowScanner) (Checkpoint[S], error) {
	var (
		cp        Checkpoint[S]
		status    string
		data      string
		updatedAt string
	)
	if err := row.Scan(&cp.ThreadID, &cp.Step, &cp.NodeID, &cp.Next, &status, &data, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cp, err
		}
		return cp, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	state, err := decodeState[S]([]byte(data))
	if err != nil {
		return cp, err
	}
	cp.State = state
	cp.Status = Status(status)
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		cp.UpdatedAt = ts
	}
	return cp, nil
}
