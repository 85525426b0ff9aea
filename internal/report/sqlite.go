// Package report records a search run to a SQLite database: one row for
// the run, one per search iteration and one per clip outcome.
package report

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gwlsn/crfhunt/internal/batch"
	"github.com/gwlsn/crfhunt/internal/errs"
	"github.com/gwlsn/crfhunt/internal/logger"
	"github.com/gwlsn/crfhunt/internal/search"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	input_path TEXT NOT NULL,
	output_path TEXT,
	target INTEGER NOT NULL,
	start_crf INTEGER NOT NULL,
	policy TEXT NOT NULL,
	pool_size INTEGER NOT NULL,
	clip_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	selected_crf INTEGER,
	error TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS iterations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	clip TEXT NOT NULL,
	worker INTEGER NOT NULL,
	n INTEGER NOT NULL,
	crf INTEGER NOT NULL,
	score INTEGER NOT NULL,
	step INTEGER NOT NULL,
	bracketed INTEGER NOT NULL DEFAULT 0,
	found INTEGER NOT NULL DEFAULT 0,
	recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	clip TEXT NOT NULL,
	worker INTEGER NOT NULL,
	crf INTEGER,
	iterations INTEGER NOT NULL DEFAULT 0,
	stage TEXT,
	error TEXT,
	skipped INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_iterations_clip ON iterations(run_id, clip, n);
`

// Run status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run describes one invocation of the search pipeline.
type Run struct {
	ID          string
	InputPath   string
	OutputPath  string
	Target      int
	StartCRF    int
	Policy      string
	PoolSize    int
	ClipCount   int
	Status      string
	SelectedCRF int // 0 until the run completes
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// ClipOutcome is the stored form of a batch.ClipResult.
type ClipOutcome struct {
	Position   int
	Clip       string
	Worker     int
	CRF        int // 0 when the search failed
	Iterations int
	Stage      string
	Error      string
	Skipped    bool
}

// SQLiteReport writes one run to a SQLite file. It is safe for concurrent
// use so a single report can observe every search in a batch.
type SQLiteReport struct {
	db    *sql.DB
	mu    sync.Mutex // Serializes writes
	path  string
	runID string
}

// Create opens a fresh report at dbPath. Any previous report at that path
// is removed, so the file always holds exactly one run.
func Create(dbPath string) (*SQLiteReport, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.New(errs.KindIO, "report", "", fmt.Errorf("create report directory: %w", err))
	}

	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, errs.New(errs.KindIO, "report", "", fmt.Errorf("remove old report: %w", err))
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errs.New(errs.KindIO, "report", "", fmt.Errorf("open database: %w", err))
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errs.New(errs.KindIO, "report", "", fmt.Errorf("enable foreign keys: %w", err))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.New(errs.KindIO, "report", "", fmt.Errorf("create schema: %w", err))
	}

	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		db.Close()
		return nil, errs.New(errs.KindIO, "report", "", fmt.Errorf("insert schema version: %w", err))
	}

	return &SQLiteReport{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (r *SQLiteReport) Path() string {
	return r.path
}

// RunID returns the ID assigned by StartRun, or "" before it is called.
func (r *SQLiteReport) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// StartRun inserts the run row. run.ID is generated when empty.
func (r *SQLiteReport) StartRun(run Run) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO runs (id, input_path, output_path, target, start_crf, policy, pool_size, clip_count, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.InputPath, nullString(run.OutputPath), run.Target, run.StartCRF,
		run.Policy, run.PoolSize, run.ClipCount, StatusRunning, formatTime(run.StartedAt))
	if err != nil {
		return "", errs.New(errs.KindIO, "report", "", fmt.Errorf("insert run: %w", err))
	}

	r.runID = run.ID
	return run.ID, nil
}

// SetClipCount updates the number of clips once sampling is done.
func (r *SQLiteReport) SetClipCount(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec("UPDATE runs SET clip_count = ? WHERE id = ?", n, r.runID); err != nil {
		return errs.New(errs.KindIO, "report", "", fmt.Errorf("update clip count: %w", err))
	}
	return nil
}

// RecordIteration stores one search iteration.
func (r *SQLiteReport) RecordIteration(it search.Iteration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO iterations (run_id, clip, worker, n, crf, score, step, bracketed, found, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.runID, it.Clip, it.Worker, it.N, it.Quality, it.Score, it.Step,
		boolToInt(it.Bracketed), boolToInt(it.Found), formatTime(time.Now()))
	if err != nil {
		return errs.New(errs.KindIO, "report", it.Clip, fmt.Errorf("insert iteration: %w", err))
	}
	return nil
}

// Observer returns a search.Observer that records every iteration.
// Write failures are logged rather than failing the search.
func (r *SQLiteReport) Observer() search.Observer {
	return func(it search.Iteration) {
		if err := r.RecordIteration(it); err != nil {
			logger.Warn("Failed to record iteration", "clip", it.Clip, "error", err)
		}
	}
}

// RecordResults stores the per-clip outcomes of a batch in one transaction.
func (r *SQLiteReport) RecordResults(results []batch.ClipResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return errs.New(errs.KindIO, "report", "", fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO results (run_id, position, clip, worker, crf, iterations, stage, error, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errs.New(errs.KindIO, "report", "", fmt.Errorf("prepare statement: %w", err))
	}
	defer stmt.Close()

	for _, cr := range results {
		o := outcomeOf(cr)
		var crf any
		if cr.OK() {
			crf = o.CRF
		}
		if _, err := stmt.Exec(r.runID, o.Position, o.Clip, o.Worker, crf, o.Iterations,
			nullString(o.Stage), nullString(o.Error), boolToInt(o.Skipped)); err != nil {
			return errs.New(errs.KindIO, "report", o.Clip, fmt.Errorf("insert result: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.New(errs.KindIO, "report", "", fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func outcomeOf(cr batch.ClipResult) ClipOutcome {
	o := ClipOutcome{
		Position: cr.Index,
		Clip:     cr.Clip.ID,
		Worker:   cr.Worker,
		Skipped:  cr.Skipped,
	}
	if cr.Result != nil {
		o.CRF = cr.Result.Quality
		o.Iterations = cr.Result.Iterations
	}
	if cr.Err != nil {
		o.Stage, _ = errs.StageOf(cr.Err)
		o.Error = cr.Err.Error()
	}
	return o
}

// FinishRun marks the run complete with the selected CRF, or failed when
// runErr is non-nil.
func (r *SQLiteReport) FinishRun(selected int, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := StatusComplete
	var sel, msg any = selected, nil
	if runErr != nil {
		status = StatusFailed
		sel = nil
		msg = runErr.Error()
	}

	_, err := r.db.Exec(`
		UPDATE runs SET status = ?, selected_crf = ?, error = ?, finished_at = ? WHERE id = ?
	`, status, sel, msg, formatTime(time.Now()), r.runID)
	if err != nil {
		return errs.New(errs.KindIO, "report", "", fmt.Errorf("finish run: %w", err))
	}
	return nil
}

// GetRun returns the run row, or nil before StartRun.
func (r *SQLiteReport) GetRun() (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var run Run
	var output, errMsg, finishedAt sql.NullString
	var selected sql.NullInt64
	var startedAt string

	err := r.db.QueryRow(`
		SELECT id, input_path, output_path, target, start_crf, policy, pool_size, clip_count,
			status, selected_crf, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, r.runID).Scan(&run.ID, &run.InputPath, &output, &run.Target, &run.StartCRF, &run.Policy,
		&run.PoolSize, &run.ClipCount, &run.Status, &selected, &errMsg, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindIO, "report", "", fmt.Errorf("query run: %w", err))
	}

	run.OutputPath = output.String
	run.SelectedCRF = int(selected.Int64)
	run.Error = errMsg.String
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = parseTime(finishedAt.String)
	}
	return &run, nil
}

// Iterations returns the recorded iterations for a clip in search order.
func (r *SQLiteReport) Iterations(clip string) ([]search.Iteration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`
		SELECT clip, worker, n, crf, score, step, bracketed, found
		FROM iterations WHERE run_id = ? AND clip = ? ORDER BY n
	`, r.runID, clip)
	if err != nil {
		return nil, errs.New(errs.KindIO, "report", clip, fmt.Errorf("query iterations: %w", err))
	}
	defer rows.Close()

	var its []search.Iteration
	for rows.Next() {
		var it search.Iteration
		var bracketed, found int
		if err := rows.Scan(&it.Clip, &it.Worker, &it.N, &it.Quality, &it.Score, &it.Step, &bracketed, &found); err != nil {
			return nil, errs.New(errs.KindIO, "report", clip, fmt.Errorf("scan iteration: %w", err))
		}
		it.Bracketed = bracketed != 0
		it.Found = found != 0
		its = append(its, it)
	}
	return its, rows.Err()
}

// Results returns the stored clip outcomes in input order.
func (r *SQLiteReport) Results() ([]ClipOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`
		SELECT position, clip, worker, crf, iterations, stage, error, skipped
		FROM results WHERE run_id = ? ORDER BY position
	`, r.runID)
	if err != nil {
		return nil, errs.New(errs.KindIO, "report", "", fmt.Errorf("query results: %w", err))
	}
	defer rows.Close()

	var out []ClipOutcome
	for rows.Next() {
		var o ClipOutcome
		var crf sql.NullInt64
		var stage, msg sql.NullString
		var skipped int
		if err := rows.Scan(&o.Position, &o.Clip, &o.Worker, &crf, &o.Iterations, &stage, &msg, &skipped); err != nil {
			return nil, errs.New(errs.KindIO, "report", "", fmt.Errorf("scan result: %w", err))
		}
		o.CRF = int(crf.Int64)
		o.Stage = stage.String
		o.Error = msg.String
		o.Skipped = skipped != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteReport) Close() error {
	return r.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
