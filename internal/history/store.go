// Package history persists a diagnostics trail of completed jobs: what ran,
// for which user, with what outcome, and how many bytes it saved. It backs
// the /status and /usage chat commands. A write failure here is logged and
// otherwise swallowed — it must never fail the pipeline that produced the
// record it's trying to save.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adittyamondal/vcompress/internal/jobs"
	"github.com/adittyamondal/vcompress/internal/logger"
)

// RunHistoryRecord is one completed job's diagnostic summary.
type RunHistoryRecord struct {
	JobSeq     int64
	DedupeKey  string
	UserID     int64
	PresetID   string
	Status     jobs.Status
	Stats      jobs.RunStats
	FinishedAt time.Time
}

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	job_seq INTEGER PRIMARY KEY,
	dedupe_key TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	preset_id TEXT NOT NULL,
	status TEXT NOT NULL,
	original_bytes INTEGER NOT NULL DEFAULT 0,
	compressed_bytes INTEGER NOT NULL DEFAULT 0,
	download_ms INTEGER NOT NULL DEFAULT 0,
	compress_ms INTEGER NOT NULL DEFAULT 0,
	upload_ms INTEGER NOT NULL DEFAULT 0,
	engine_label TEXT NOT NULL DEFAULT '',
	finished_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
CREATE INDEX IF NOT EXISTS idx_runs_user_id ON runs(user_id);
`

// Store is a sqlite-backed Run History Store.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open creates or opens the history database at dbPath, running any
// pending schema migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create history db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: dbPath}, nil
}

func migrate(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		version = 0
	case err != nil:
		return fmt.Errorf("read history schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	// v1 -> v2: nothing structural yet; reserved for the first forward
	// migration this store needs. Columns above already include anything
	// added since v1 because the table is created fresh on first run.
	if version < 2 {
		// no-op migration step, kept to demonstrate the forward-only shape
		// the moment a real v1->v2 change is needed.
	}

	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("update history schema version: %w", err)
	}
	return nil
}

// Record appends one completed job's summary.
func (s *Store) Record(r RunHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO runs (
			job_seq, dedupe_key, user_id, preset_id, status,
			original_bytes, compressed_bytes, download_ms, compress_ms, upload_ms,
			engine_label, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.JobSeq, r.DedupeKey, r.UserID, r.PresetID, string(r.Status),
		r.Stats.OriginalBytes, r.Stats.CompressedBytes, r.Stats.DownloadMS, r.Stats.CompressMS, r.Stats.UploadMS,
		r.Stats.EngineLabel, r.FinishedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Recent returns the n most recently finished records, newest first.
func (s *Store) Recent(n int) ([]RunHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT job_seq, dedupe_key, user_id, preset_id, status,
			original_bytes, compressed_bytes, download_ms, compress_ms, upload_ms,
			engine_label, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunHistoryRecord
	for rows.Next() {
		var r RunHistoryRecord
		var status, finishedAt string
		if err := rows.Scan(
			&r.JobSeq, &r.DedupeKey, &r.UserID, &r.PresetID, &status,
			&r.Stats.OriginalBytes, &r.Stats.CompressedBytes, &r.Stats.DownloadMS, &r.Stats.CompressMS, &r.Stats.UploadMS,
			&r.Stats.EngineLabel, &finishedAt,
		); err != nil {
			return nil, err
		}
		r.Status = jobs.Status(status)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LifetimeTotals aggregates the number of successfully completed jobs and
// total bytes saved across all time.
func (s *Store) LifetimeTotals() (jobsProcessed int, bytesSaved int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(original_bytes - compressed_bytes), 0)
		FROM runs WHERE status = ?
	`, string(jobs.StatusComplete))
	err = row.Scan(&jobsProcessed, &bytesSaved)
	return jobsProcessed, bytesSaved, err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RecordSafely calls Record and logs (rather than propagates) any error,
// per the non-fatal write policy for diagnostics.
func (s *Store) RecordSafely(r RunHistoryRecord) {
	if err := s.Record(r); err != nil {
		logger.Error("write run history record", "job_seq", r.JobSeq, "error", err)
	}
}
