package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/archagent/internal/config"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		requirement TEXT NOT NULL,
		model_id TEXT NOT NULL DEFAULT '',
		max_cycles INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		accepted INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		score DOUBLE PRECISION NOT NULL DEFAULT 0,
		cycles INTEGER NOT NULL DEFAULT 0,
		iterations INTEGER NOT NULL DEFAULT 0,
		artifact TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL DEFAULT '',
		critique TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		finished_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs (created_at)`,
	`CREATE TABLE IF NOT EXISTS run_events (
		run_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (run_id, sequence)
	)`,
}

const runColumns = `id, requirement, model_id, max_cycles, status, accepted, reason, score, cycles, iterations,
	artifact, explanation, critique, feedback, error, created_at, updated_at, finished_at`

// SQLStore is a Store over database/sql. It works with the modernc "sqlite" driver and the
// pgx "pgx" driver.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ Store = (*SQLStore)(nil)

// Open connects using cfg.Driver ("sqlite" or "postgres") and migrates the schema.
func Open(ctx context.Context, cfg config.RunStoreConfig) (*SQLStore, error) {
	var (
		driverName string
		dialect    Dialect
	)
	switch cfg.Driver {
	case "", "sqlite":
		driverName, dialect = "sqlite", DialectSQLite
	case "postgres":
		driverName, dialect = "pgx", DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported runstore driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN.Value())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Driver, err)
	}
	if dialect == DialectSQLite {
		// A single connection keeps ":memory:" databases shared and serialises writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Driver, err)
	}

	s, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and creates the tables if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrating run store: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.dialect, query), args...)
}

func (s *SQLStore) Create(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	if run.Status == "" {
		run.Status = StatusPending
	}

	args, err := runArgs(run)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now().UTC()
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	// runArgs leads with id; the UPDATE wants it last.
	args = append(append([]any{}, args[1:]...), args[0])

	res, err := s.exec(ctx, `UPDATE runs SET requirement = ?, model_id = ?, max_cycles = ?, status = ?,
		accepted = ?, reason = ?, score = ?, cycles = ?, iterations = ?, artifact = ?, explanation = ?,
		critique = ?, feedback = ?, error = ?, created_at = ?, updated_at = ?, finished_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.dialect, `SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	return run, nil
}

// List returns runs newest first. Limit defaults to 50.
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendEvent stores ev. Re-appending the same sequence overwrites the previous payload.
func (s *SQLStore) AppendEvent(ctx context.Context, ev orchestrator.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.exec(ctx, `INSERT INTO run_events (run_id, sequence, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, sequence) DO UPDATE SET type = excluded.type, payload = excluded.payload`,
		ev.RunID, ev.Sequence, string(ev.Type), string(payload), ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("appending event %d for run %s: %w", ev.Sequence, ev.RunID, err)
	}
	return nil
}

// Events returns a run's events in sequence order.
func (s *SQLStore) Events(ctx context.Context, runID string) ([]orchestrator.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		rebind(s.dialect, `SELECT payload FROM run_events WHERE run_id = ? ORDER BY sequence`), runID)
	if err != nil {
		return nil, fmt.Errorf("loading events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []orchestrator.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev orchestrator.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decoding event for run %s: %w", runID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func runArgs(run *Run) ([]any, error) {
	feedback, err := encodeJSON(run.Feedback)
	if err != nil {
		return nil, err
	}
	errInfo, err := encodeJSON(run.Error)
	if err != nil {
		return nil, err
	}
	var finished sql.NullInt64
	if run.FinishedAt != nil {
		finished = sql.NullInt64{Int64: run.FinishedAt.UnixMilli(), Valid: true}
	}
	accepted := 0
	if run.Accepted {
		accepted = 1
	}
	return []any{
		run.ID, run.Requirement, run.ModelID, run.MaxCycles, string(run.Status), accepted, string(run.Reason),
		run.Score, run.Cycles, run.Iterations, run.Artifact, run.Explanation, run.Critique, feedback, errInfo,
		run.CreatedAt.UnixMilli(), run.UpdatedAt.UnixMilli(), finished,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run               Run
		status, reason    string
		accepted          int64
		feedback, errInfo string
		created, updated  int64
		finished          sql.NullInt64
	)
	err := sc.Scan(&run.ID, &run.Requirement, &run.ModelID, &run.MaxCycles, &status, &accepted, &reason,
		&run.Score, &run.Cycles, &run.Iterations, &run.Artifact, &run.Explanation, &run.Critique,
		&feedback, &errInfo, &created, &updated, &finished)
	if err != nil {
		return nil, err
	}
	run.Status = Status(status)
	run.Reason = orchestrator.Reason(reason)
	run.Accepted = accepted != 0
	run.CreatedAt = time.UnixMilli(created).UTC()
	run.UpdatedAt = time.UnixMilli(updated).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		run.FinishedAt = &t
	}
	if feedback != "" {
		run.Feedback = &orchestrator.RenderFeedback{}
		if err := json.Unmarshal([]byte(feedback), run.Feedback); err != nil {
			return nil, fmt.Errorf("decoding feedback: %w", err)
		}
	}
	if errInfo != "" {
		run.Error = &orchestrator.ErrorInfo{}
		if err := json.Unmarshal([]byte(errInfo), run.Error); err != nil {
			return nil, fmt.Errorf("decoding error info: %w", err)
		}
	}
	return &run, nil
}

// encodeJSON returns "" for nil pointers.
func encodeJSON[T any](v *T) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
