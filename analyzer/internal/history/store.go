package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeplab/sweepfit/analyzer/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS verdicts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	analysis    TEXT NOT NULL,
	sweep_id    TEXT NOT NULL,
	label       TEXT NOT NULL,
	rule        TEXT,
	winner      TEXT,
	values_json TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS verdicts_sweep ON verdicts (analysis, sweep_id);

CREATE TABLE IF NOT EXISTS corrections (
	run_id    TEXT NOT NULL,
	analysis  TEXT NOT NULL,
	quantity  TEXT NOT NULL,
	median    REAL NOT NULL,
	value     REAL NOT NULL,
	included  INTEGER NOT NULL,
	PRIMARY KEY (run_id, analysis),
	FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
`

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one recorded verdict.
type Entry struct {
	RunID     string
	StartedAt time.Time
	Analysis  string
	SweepID   string
	Label     string
	Rule      string
	Winner    string
	Values    map[string]float64
}

// CorrectionEntry is one recorded correction.
type CorrectionEntry struct {
	RunID     string
	StartedAt time.Time
	Analysis  string
	Quantity  string
	Median    float64
	Value     float64
	Included  int
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	Analysis string
	SweepID  string
	Label    string
	Since    time.Time
	Limit    int
}

// Store is a SQLite-backed verdict history. It is safe for concurrent use.
type Store struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// Open opens (creating if needed) the database at path. A retention of zero
// keeps everything.
func Open(path string, retention time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db, retention: retention, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores every verdict and correction of rep in one transaction.
func (s *Store) Record(ctx context.Context, rep *pipeline.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, duration_ms) VALUES (?, ?, ?)`,
		rep.RunID, rep.StartedAt.UTC().Format(timeLayout), rep.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}

	for _, ar := range rep.Analyses {
		for _, sw := range ar.Sweeps {
			values, err := json.Marshal(finite(sw.Verdict.Values))
			if err != nil {
				return fmt.Errorf("history: marshal values: %w", err)
			}
			var winner string
			if best, ok := sw.Winner(); ok {
				winner = best.Model
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO verdicts (run_id, analysis, sweep_id, label, rule, winner, values_json)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				rep.RunID, ar.Name, sw.SweepID, sw.Verdict.Label, sw.Verdict.Rule, winner, string(values),
			)
			if err != nil {
				return fmt.Errorf("history: insert verdict: %w", err)
			}
		}
		if c := ar.Correction; c != nil {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO corrections (run_id, analysis, quantity, median, value, included)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				rep.RunID, ar.Name, c.Quantity, c.Median, c.Value, c.Included,
			)
			if err != nil {
				return fmt.Errorf("history: insert correction: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// finite drops NaN and ±Inf, which JSON cannot carry.
func finite(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

// Query returns recorded verdicts matching f, newest run first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Analysis != "" {
		where = append(where, "v.analysis = ?")
		args = append(args, f.Analysis)
	}
	if f.SweepID != "" {
		where = append(where, "v.sweep_id = ?")
		args = append(args, f.SweepID)
	}
	if f.Label != "" {
		where = append(where, "v.label = ?")
		args = append(args, f.Label)
	}
	if !f.Since.IsZero() {
		where = append(where, "r.started_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	q := `SELECT v.run_id, r.started_at, v.analysis, v.sweep_id, v.label,
	             COALESCE(v.rule, ''), COALESCE(v.winner, ''), COALESCE(v.values_json, '{}')
	      FROM verdicts v JOIN runs r ON r.run_id = v.run_id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY r.started_at DESC, v.id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query verdicts: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			started, valueSrc string
		)
		if err := rows.Scan(&e.RunID, &started, &e.Analysis, &e.SweepID, &e.Label, &e.Rule, &e.Winner, &valueSrc); err != nil {
			return nil, fmt.Errorf("history: scan verdict: %w", err)
		}
		e.StartedAt, _ = time.Parse(timeLayout, started)
		if err := json.Unmarshal([]byte(valueSrc), &e.Values); err != nil {
			return nil, fmt.Errorf("history: decode values: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Corrections returns recorded corrections for analysis (all when empty),
// newest first.
func (s *Store) Corrections(ctx context.Context, analysis string, limit int) ([]CorrectionEntry, error) {
	q := `SELECT c.run_id, r.started_at, c.analysis, c.quantity, c.median, c.value, c.included
	      FROM corrections c JOIN runs r ON r.run_id = c.run_id`
	var args []any
	if analysis != "" {
		q += " WHERE c.analysis = ?"
		args = append(args, analysis)
	}
	q += " ORDER BY r.started_at DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query corrections: %w", err)
	}
	defer rows.Close()

	var out []CorrectionEntry
	for rows.Next() {
		var (
			c       CorrectionEntry
			started string
		)
		if err := rows.Scan(&c.RunID, &started, &c.Analysis, &c.Quantity, &c.Median, &c.Value, &c.Included); err != nil {
			return nil, fmt.Errorf("history: scan correction: %w", err)
		}
		c.StartedAt, _ = time.Parse(timeLayout, started)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Evict deletes runs that started before now minus the retention, together
// with their verdicts and corrections. It returns the number of runs removed.
func (s *Store) Evict(ctx context.Context, now time.Time) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.retention).UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"verdicts", "corrections"} {
		q := `DELETE FROM ` + table + ` WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)`
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, fmt.Errorf("history: evict %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: evict runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: evict runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: commit: %w", err)
	}
	return n, nil
}

// Run evicts expired runs periodically until ctx is cancelled. It ticks at
// a tenth of the retention, between one minute and one hour.
func (s *Store) Run(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	interval := min(max(s.retention/10, time.Minute), time.Hour)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Evict(ctx, s.now())
			if err != nil {
				slog.Warn("history: eviction failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("history: evicted expired runs", "count", n)
			}
		}
	}
}
