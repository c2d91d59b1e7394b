// Package resultstore exports run tables into SQLite.
package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/loqalabs/loqa-grammar/internal/pipeline"
	_ "modernc.org/sqlite"
)

const (
	RetentionEphemeral  = "ephemeral"
	RetentionPersistent = "persistent"

	// fixed width so stored timestamps sort as text
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Run is one exported pipeline run.
type Run struct {
	ID          string
	Mode        string
	Input       string
	Total       int
	Transcribed int
	MeanScore   float64
	CreatedAt   time.Time
}

// Result is one exported row.
type Result struct {
	RunID           string
	Position        int
	Path            string
	Format          string
	Duration        time.Duration
	Transcribed     bool
	Backend         string
	Transcription   string
	TextLength      int
	WordCount       int
	ErrorCount      int
	ErrorRate       float64
	GrammarScore    float64
	ErrorCategories map[string]int
	AudioFeatures   map[string]float64
	Failures        []string
}

// Store wraps the SQLite export database. In ephemeral mode it has no
// database and every call is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.ExportConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to cfg.
func Open(ctx context.Context, cfg config.ExportConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "resultstore"))
	if cfg.RetentionMode == "" || cfg.RetentionMode == RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("result store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("result store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    mode TEXT,
    input TEXT,
    total INTEGER NOT NULL,
    transcribed INTEGER NOT NULL,
    mean_score REAL,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    path TEXT NOT NULL,
    format TEXT,
    duration_ms INTEGER,
    transcribed INTEGER NOT NULL,
    backend TEXT,
    transcription TEXT,
    text_length INTEGER,
    word_count INTEGER,
    error_count INTEGER,
    error_rate REAL,
    grammar_score REAL,
    error_categories TEXT,
    audio_features TEXT,
    failures TEXT,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_results_run_position ON results(run_id, position);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether runs are written anywhere.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun writes the run header and all of its rows in one transaction.
func (s *Store) SaveRun(ctx context.Context, table pipeline.Table, summary pipeline.Summary, input string) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	created := s.clock().UTC().Format(timeLayout)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(run_id, mode, input, total, transcribed, mean_score, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		table.RunID, string(table.Mode), input, summary.Total, summary.Transcribed, table.MeanScore(), created)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results(run_id, position, path, format, duration_ms, transcribed, backend, transcription,
		 text_length, word_count, error_count, error_rate, grammar_score, error_categories, audio_features, failures)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range table.Rows {
		categories, err := json.Marshal(row.Grammar.ErrorCategories)
		if err != nil {
			return err
		}
		features, err := json.Marshal(row.AudioFeatures)
		if err != nil {
			return err
		}
		failures := make([]string, len(row.Failures))
		for j, f := range row.Failures {
			failures[j] = string(f)
		}
		if _, err = stmt.ExecContext(ctx,
			table.RunID, i, row.Record.Path, row.Record.Format, row.Record.Duration.Milliseconds(),
			row.Transcription.Present, row.Transcription.Backend, row.Transcription.Text,
			row.TextLength, row.Grammar.WordCount, row.Grammar.ErrorCount, row.Grammar.ErrorRate,
			row.GrammarScore, string(categories), string(features), strings.Join(failures, ","),
		); err != nil {
			return fmt.Errorf("insert result %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Info("run exported", slog.String("run_id", table.RunID), slog.Int("rows", len(table.Rows)))
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, mode, input, total, transcribed, mean_score, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created string
		if err := rows.Scan(&r.ID, &r.Mode, &r.Input, &r.Total, &r.Transcribed, &r.MeanScore, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(timeLayout, created); err == nil {
			r.CreatedAt = ts
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunResults returns the rows of runID in their original order.
func (s *Store) ListRunResults(ctx context.Context, runID string) ([]Result, error) {
	if !s.Enabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, position, path, format, duration_ms, transcribed, backend, transcription,
		 text_length, word_count, error_count, error_rate, grammar_score, error_categories, audio_features, failures
		 FROM results WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var durationMS int64
		var categories, features, failures string
		if err := rows.Scan(&r.RunID, &r.Position, &r.Path, &r.Format, &durationMS, &r.Transcribed, &r.Backend,
			&r.Transcription, &r.TextLength, &r.WordCount, &r.ErrorCount, &r.ErrorRate, &r.GrammarScore,
			&categories, &features, &failures); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(categories), &r.ErrorCategories); err != nil {
			return nil, fmt.Errorf("decode categories: %w", err)
		}
		if err := json.Unmarshal([]byte(features), &r.AudioFeatures); err != nil {
			return nil, fmt.Errorf("decode audio features: %w", err)
		}
		if failures != "" {
			r.Failures = strings.Split(failures, ",")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Prune applies retention days and the run cap.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() || s.cfg.RetentionMode != RetentionPersistent {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UTC().Format(timeLayout)); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
