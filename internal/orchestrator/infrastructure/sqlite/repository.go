// Package sqlite stores the saga log in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmehra2102/order-saga/internal/orchestrator/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS saga_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    saga_id     TEXT NOT NULL,
    saga        TEXT NOT NULL,
    state       TEXT NOT NULL,
    step        TEXT NOT NULL DEFAULT '',
    payload     TEXT,
    errors      TEXT NOT NULL DEFAULT '[]',
    trace_id    TEXT NOT NULL DEFAULT '',
    span_id     TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saga_log_saga_id ON saga_log(saga_id, id);
CREATE INDEX IF NOT EXISTS idx_saga_log_state ON saga_log(state);
`

const timeLayout = time.RFC3339Nano

type Repository struct {
	db *sql.DB
}

// Open creates the database file when missing. WAL lets status reads run
// alongside the saga writer.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) Save(ctx context.Context, e domain.Entry) error {
	errs := e.Errors
	if errs == nil {
		errs = []string{}
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("sqlite: encode errors: %w", err)
	}

	var payload any
	if e.Payload != "" {
		payload = e.Payload
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO saga_log (saga_id, saga, state, step, payload, errors, trace_id, span_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SagaID, e.Saga, string(e.State), e.Step, payload, string(errJSON), e.TraceID, e.SpanID,
		e.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save saga %s: %w", e.SagaID, err)
	}
	return nil
}

// History returns every entry of a saga, oldest first.
func (r *Repository) History(ctx context.Context, sagaID string) ([]domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT saga_id, saga, state, step, COALESCE(payload, ''), errors, trace_id, span_id, updated_at
		FROM saga_log WHERE saga_id = ? ORDER BY id`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history %s: %w", sagaID, err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		var (
			e         domain.Entry
			errJSON   string
			updatedAt string
		)
		if err := rows.Scan(&e.SagaID, &e.Saga, &e.State, &e.Step, &e.Payload, &errJSON, &e.TraceID, &e.SpanID, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan saga %s: %w", sagaID, err)
		}
		if err := json.Unmarshal([]byte(errJSON), &e.Errors); err != nil {
			return nil, fmt.Errorf("sqlite: decode errors for saga %s: %w", sagaID, err)
		}
		if e.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: parse time %q: %w", updatedAt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByState reports how many sagas ended in the given state.
func (r *Repository) CountByState(ctx context.Context, state domain.SagaState) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT saga_id) FROM saga_log WHERE state = ?`, string(state)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", state, err)
	}
	return n, nil
}
