// Package report persists evaluation summaries in SQLite.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hed1ad/fishguard/pkg/evaluation"
)

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("evaluation run not found")

// Run is one stored evaluation.
type Run struct {
	ID        string
	CreatedAt time.Time
	Summary   evaluation.Summary
}

// Store records evaluation runs.
type Store struct {
	db *sql.DB
}

// Open opens or creates the report database at dbPath. Parent directories
// are created if they do not exist.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS evaluation_runs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		scorer TEXT NOT NULL,
		extractor TEXT NOT NULL,
		reference_class TEXT NOT NULL,
		reference_count INTEGER NOT NULL,
		diseased_count INTEGER NOT NULL,
		normal_count INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		sensitivity REAL,
		specificity REAL,
		accuracy REAL,
		summary TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON evaluation_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_scorer ON evaluation_runs(scorer);
	`
	_, err := db.Exec(schema)
	return err
}

// Save stores summary under a new run ID and returns it.
func (s *Store) Save(ctx context.Context, summary *evaluation.Summary) (string, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}

	var sens, spec, acc sql.NullFloat64
	if summary.HasMetrics {
		sens = sql.NullFloat64{Float64: summary.Sensitivity, Valid: true}
		spec = sql.NullFloat64{Float64: summary.Specificity, Valid: true}
		acc = sql.NullFloat64{Float64: summary.Accuracy, Valid: true}
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluation_runs (id, created_at, scorer, extractor, reference_class,
			reference_count, diseased_count, normal_count, skipped, sensitivity, specificity, accuracy, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), summary.Scorer, summary.Extractor, summary.Reference.String(),
		summary.ReferenceCount, summary.Diseased.Count, summary.Normal.Count, summary.Skipped,
		sens, spec, acc, string(payload),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// Get returns a run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, summary FROM evaluation_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// List returns the most recent runs first, optionally filtered by scorer.
func (s *Store) List(ctx context.Context, scorer string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, summary FROM evaluation_runs
		 WHERE (? = '' OR scorer = ?)
		 ORDER BY created_at DESC LIMIT ?`, scorer, scorer, limit)
	if err != nil {
		return nil, err
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

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var payload string
	if err := row.Scan(&run.ID, &run.CreatedAt, &payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &run.Summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &run, nil
}
