// Package history keeps an append-only SQLite log of per-item sync outcomes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	item_type   TEXT NOT NULL,
	item_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_action ON outcomes(action);
`

// Actions recorded per item.
const (
	ActionCreated    = "created"
	ActionUpdated    = "updated"
	ActionFailed     = "failed"
	ActionSkipped    = "skipped"
	ActionMoved      = "moved"
	ActionMoveFailed = "move-failed"
)

// Record is one item outcome of one run.
type Record struct {
	RunID      string `json:"runId" yaml:"runId"`
	RecordedAt string `json:"recordedAt" yaml:"recordedAt"`
	ItemType   string `json:"itemType" yaml:"itemType"`
	ItemID     string `json:"itemId" yaml:"itemId"`
	Action     string `json:"action" yaml:"action"`
	ExternalID string `json:"devopsId,omitempty" yaml:"devopsId,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

type Store struct {
	db   *sql.DB
	path string
}

func connString(path string) string {
	return "file:" + filepath.ToSlash(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes records in one transaction.
func (s *Store) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO outcomes
		(run_id, recorded_at, item_type, item_id, action, external_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.RunID, r.RecordedAt, r.ItemType, r.ItemID, r.Action, r.ExternalID, r.Error); err != nil {
			return fmt.Errorf("insert history %s %s: %w", r.ItemType, r.ItemID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

// Query filters List results. A zero Limit returns everything.
type Query struct {
	RunID      string
	FailedOnly bool
	Limit      int
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	var where []string
	var args []any
	if q.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, q.RunID)
	}
	if q.FailedOnly {
		where = append(where, "action IN (?, ?)")
		args = append(args, ActionFailed, ActionMoveFailed)
	}
	query := "SELECT run_id, recorded_at, item_type, item_id, action, external_id, error FROM outcomes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.RunID, &r.RecordedAt, &r.ItemType, &r.ItemID, &r.Action, &r.ExternalID, &r.Error); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FromOutcome flattens an outcome into history records.
func FromOutcome(runID string, o *models.Outcome, at time.Time) []Record {
	stamp := at.UTC().Format(time.RFC3339)
	var out []Record
	add := func(kind, id, action string, external models.ExternalID, errText string) {
		out = append(out, Record{
			RunID:      runID,
			RecordedAt: stamp,
			ItemType:   kind,
			ItemID:     id,
			Action:     action,
			ExternalID: external.String(),
			Error:      errText,
		})
	}
	phase := func(kind string, p models.PhaseResult) {
		for _, r := range p.Created {
			add(kind, r.ID, ActionCreated, r.ExternalID, "")
		}
		for _, r := range p.Updated {
			add(kind, r.ID, ActionUpdated, r.ExternalID, "")
		}
		for _, r := range p.Failed {
			add(kind, r.ID, ActionFailed, r.ExternalID, r.Error)
		}
		for _, r := range p.Skipped {
			add(kind, r.ID, ActionSkipped, r.ExternalID, "")
		}
	}
	phase("epic", o.Epics)
	phase("story", o.Stories)
	phase("task", o.Tasks)

	for _, r := range o.Iterations.Created {
		add("iteration", r.Slug, ActionCreated, r.ExternalID, "")
	}
	for _, r := range o.Iterations.Failed {
		add("iteration", r.Slug, ActionFailed, r.ExternalID, r.Error)
	}
	for _, r := range o.Iterations.Skipped {
		add("iteration", r.Slug, ActionSkipped, r.ExternalID, "")
	}
	for _, m := range o.Iterations.Movements {
		action := ActionMoved
		if m.Status == models.MovementFailed {
			action = ActionMoveFailed
		}
		add(m.Type, m.ID, action, "", m.Error)
	}
	return out
}
