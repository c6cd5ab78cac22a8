package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for analysis runs.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// Open opens a SQLite database with the named driver: "sqlite" (pure Go)
// or "sqlite3" (cgo).
func Open(driver, path string) (*sql.DB, error) {
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
	case "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// one writer avoids SQLITE_BUSY between pipeline workers
	db.SetMaxOpenConns(1)
	return db, nil
}

// New opens (or creates) the database at path and ensures schema.
func New(driver, path string) (*Store, error) {
	db, err := Open(driver, path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analysis_runs (
            id TEXT PRIMARY KEY,
            variant TEXT NOT NULL,
            status TEXT NOT NULL,
            params_json TEXT,
            image_count INTEGER DEFAULT 0,
            processed INTEGER DEFAULT 0,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS run_results (
            run_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS run_images (
            run_id TEXT NOT NULL,
            image_id INTEGER NOT NULL,
            row_count INTEGER DEFAULT 0,
            attachment TEXT,
            status TEXT NOT NULL,
            PRIMARY KEY (run_id, image_id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_runs_created ON analysis_runs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Run statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusInvalid   = "invalid"
	StatusFailed    = "failed"
)

// RunRecord captures persisted run info.
type RunRecord struct {
	ID          string
	Variant     string
	Status      string
	ParamsJSON  string
	ImageCount  int
	Processed   int
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ImageResult is the outcome of one image within a run.
type ImageResult struct {
	RunID      string
	ImageID    int64
	Rows       int
	Attachment string
	Status     string
}

// RecordRunQueued inserts a pending run.
func (s *Store) RecordRunQueued(rec RunRecord) error {
	if s == nil {
		return nil
	}
	status := rec.Status
	if status == "" {
		status = StatusQueued
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO analysis_runs (id, variant, status, params_json, image_count) VALUES (?, ?, ?, ?, ?);`,
		rec.ID, rec.Variant, status, rec.ParamsJSON, rec.ImageCount)
	return err
}

// RecordRunStart marks a run as running.
func (s *Store) RecordRunStart(id string, imageCount int) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE analysis_runs SET status=?, image_count=?, started_at=CURRENT_TIMESTAMP WHERE id=?;`, StatusRunning, imageCount, id)
	return err
}

// RecordRunResult finalizes a run with status, processed count and meta.
func (s *Store) RecordRunResult(id, status string, processed int, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	_, err = s.DB.Exec(`UPDATE analysis_runs SET status=?, processed=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, processed, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO run_results (run_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecordImageResult stores the outcome for one image of a run.
func (s *Store) RecordImageResult(res ImageResult) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO run_images (run_id, image_id, row_count, attachment, status) VALUES (?, ?, ?, ?, ?);`,
		res.RunID, res.ImageID, res.Rows, res.Attachment, res.Status)
	return err
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, variant, status, params_json, image_count, processed, created_at, started_at, completed_at, error_message FROM analysis_runs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Run fetches a single run.
func (s *Store) Run(id string) (RunRecord, error) {
	if s == nil {
		return RunRecord{}, errors.New("store not initialized")
	}
	row := s.DB.QueryRow(`SELECT id, variant, status, params_json, image_count, processed, created_at, started_at, completed_at, error_message FROM analysis_runs WHERE id=?;`, id)
	return scanRun(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var rec RunRecord
	var params, errorMsg sql.NullString
	var started, completed sql.NullTime
	if err := sc.Scan(&rec.ID, &rec.Variant, &rec.Status, &params, &rec.ImageCount, &rec.Processed, &rec.CreatedAt, &started, &completed, &errorMsg); err != nil {
		return RunRecord{}, err
	}
	rec.ParamsJSON = params.String
	rec.Error = errorMsg.String
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return rec, nil
}

// RunMeta fetches the last meta blob for a run.
func (s *Store) RunMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM run_results WHERE run_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RunImages returns the per-image outcomes of a run ordered by image id.
func (s *Store) RunImages(id string) ([]ImageResult, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT run_id, image_id, row_count, attachment, status FROM run_images WHERE run_id=? ORDER BY image_id;`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImageResult
	for rows.Next() {
		var res ImageResult
		var attachment sql.NullString
		if err := rows.Scan(&res.RunID, &res.ImageID, &res.Rows, &attachment, &res.Status); err != nil {
			return nil, err
		}
		res.Attachment = attachment.String
		out = append(out, res)
	}
	return out, rows.Err()
}
