// Package rundb persists the run registry: one row per pipeline run plus
// its metric report rows, in a SQLite file whose schema is managed by
// migrations.
package rundb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run is one pipeline invocation.
type Run struct {
	RunID          string
	Mode           string
	Ensemble       bool
	CorpusDesc     string
	Checkpoint     string
	Steps          int
	StartedUnixNs  int64
	FinishedUnixNs int64
	Status         string
	Notes          string
}

// Metric is one report row attached to a run. Step is 0 for end-of-run
// aggregates and the step number for training-loss samples.
type Metric struct {
	RunID     string
	Name      string
	Statistic string
	Value     float64
	Step      int
}

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// DB wraps the registry handle.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry at path and applies the
// usual pragmas. Call MigrateUp before first use.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run registry %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return &DB{db: db}, nil
}

// Close releases the handle.
func (d *DB) Close() error { return d.db.Close() }

// InsertRun records a starting run. A missing RunID gets a fresh UUID; a
// missing start time gets now. Returns the run ID.
func (d *DB) InsertRun(r *Run) (string, error) {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.StartedUnixNs == 0 {
		r.StartedUnixNs = time.Now().UnixNano()
	}
	if r.Status == "" {
		r.Status = StatusRunning
	}
	err := retryOnBusy(func() error {
		_, err := d.db.Exec(`
			INSERT INTO runs (
				run_id, mode, ensemble, corpus_desc, checkpoint,
				steps, started_unix_ns, finished_unix_ns, status, notes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Mode, r.Ensemble, r.CorpusDesc, r.Checkpoint,
			r.Steps, r.StartedUnixNs, r.FinishedUnixNs, r.Status, r.Notes,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return r.RunID, nil
}

// FinishRun stamps the run's terminal status and finish time.
func (d *DB) FinishRun(runID, status, notes string) error {
	err := retryOnBusy(func() error {
		_, err := d.db.Exec(`
			UPDATE runs SET status = ?, notes = ?, finished_unix_ns = ?
			WHERE run_id = ?`,
			status, notes, time.Now().UnixNano(), runID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// AddMetrics inserts the metric rows in one transaction.
func (d *DB) AddMetrics(rows []Metric) error {
	if len(rows) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := d.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO run_metrics (run_id, name, statistic, value, step)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()
		for _, m := range rows {
			if _, err := stmt.Exec(m.RunID, m.Name, m.Statistic, m.Value, m.Step); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// GetRun fetches one run.
func (d *DB) GetRun(runID string) (*Run, error) {
	row := d.db.QueryRow(`
		SELECT run_id, mode, ensemble, corpus_desc, checkpoint,
		       steps, started_unix_ns, finished_unix_ns, status, notes
		FROM runs WHERE run_id = ?`, runID)
	var r Run
	err := row.Scan(&r.RunID, &r.Mode, &r.Ensemble, &r.CorpusDesc, &r.Checkpoint,
		&r.Steps, &r.StartedUnixNs, &r.FinishedUnixNs, &r.Status, &r.Notes)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &r, nil
}

// ListRuns returns runs newest-first.
func (d *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(`
		SELECT run_id, mode, ensemble, corpus_desc, checkpoint,
		       steps, started_unix_ns, finished_unix_ns, status, notes
		FROM runs ORDER BY started_unix_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Mode, &r.Ensemble, &r.CorpusDesc, &r.Checkpoint,
			&r.Steps, &r.StartedUnixNs, &r.FinishedUnixNs, &r.Status, &r.Notes); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// MetricsForRun returns the run's metric rows in insertion order.
func (d *DB) MetricsForRun(runID string) ([]Metric, error) {
	rows, err := d.db.Query(`
		SELECT run_id, name, statistic, value, step
		FROM run_metrics WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("metrics for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.RunID, &m.Name, &m.Statistic, &m.Value, &m.Step); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const (
	maxBusyRetries = 5
	busyBaseDelay  = 10 * time.Millisecond
)

// retryOnBusy retries transient SQLITE_BUSY failures with backoff.
func retryOnBusy(fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
