package pipeline

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const currentSchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per phase attempt; the latest row per phase carries the
-- current-action label a failed run is diagnosed with.
CREATE TABLE IF NOT EXISTS phase_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  phase TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'running',
  label TEXT,
  error TEXT,
  started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_phase_runs_phase ON phase_runs(phase, status);
`

// State tracks phase executions in the run directory's sqlite database,
// which is what makes the pipeline resumable.
type State struct {
	db *sql.DB
}

// OpenState opens or creates the run-state database at path
func OpenState(path string) (*State, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

func (s *State) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", 1); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	return tx.Commit()
}

func (s *State) schemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

// BeginPhase records a new phase attempt and returns its row id
func (s *State) BeginPhase(phase, label string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO phase_runs (phase, status, label) VALUES (?, 'running', ?)
	`, phase, label)
	if err != nil {
		return 0, fmt.Errorf("failed to record phase start: %w", err)
	}
	return res.LastInsertId()
}

// UpdateLabel stores the current-action label for a running phase
func (s *State) UpdateLabel(id int64, label string) error {
	_, err := s.db.Exec("UPDATE phase_runs SET label = ? WHERE id = ?", label, id)
	return err
}

// CompletePhase marks a phase attempt as completed
func (s *State) CompletePhase(id int64) error {
	_, err := s.db.Exec(`
		UPDATE phase_runs SET status = 'completed', completed_at = ? WHERE id = ?
	`, time.Now(), id)
	return err
}

// FailPhase marks a phase attempt as failed with its label and error
func (s *State) FailPhase(id int64, label, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE phase_runs SET status = 'failed', label = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, label, errMsg, time.Now(), id)
	return err
}

// PhaseCompleted reports whether a phase has ever completed for this run
func (s *State) PhaseCompleted(phase string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM phase_runs WHERE phase = ? AND status = 'completed'
	`, phase).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LastFailure returns the label and error of the most recent failed phase
// attempt, or empty strings when none exists.
func (s *State) LastFailure() (label, errMsg string, err error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(label, ''), COALESCE(error, '')
		FROM phase_runs WHERE status = 'failed'
		ORDER BY id DESC LIMIT 1
	`)
	err = row.Scan(&label, &errMsg)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	return label, errMsg, err
}
