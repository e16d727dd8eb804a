// Package state keeps the session ledger: every finished session, the patch
// it produced and whether that patch has since been reverted.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sokinpui/askpatch/internal/fs"
	"github.com/sokinpui/askpatch/model"
)

const (
	stateDirName   = ".askpatch"
	ledgerFileName = "ledger.db"
)

// ErrNotFound is returned when no ledger entry matches.
var ErrNotFound = errors.New("state: entry not found")

// Entry is one recorded session.
type Entry struct {
	model.Result
	RepoRoot    string `json:"repoRoot,omitempty"`
	PatchSHA256 string `json:"patchSha256,omitempty"`
	Reverted    bool   `json:"reverted"`
}

// Manager owns the ledger database.
type Manager struct {
	db *sql.DB
}

// DefaultPath returns the ledger location for a repository root.
func DefaultPath(root string) string {
	return filepath.Join(root, stateDirName, ledgerFileName)
}

// New opens (or creates) the ledger at dbPath.
func New(dbPath string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Manager{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			status         TEXT NOT NULL,
			apply_mode     TEXT NOT NULL DEFAULT 'none',
			diff_found     INTEGER NOT NULL DEFAULT 0,
			diff_validated INTEGER NOT NULL DEFAULT 0,
			diff_applied   INTEGER NOT NULL DEFAULT 0,
			retry_count    INTEGER NOT NULL DEFAULT 0,
			elapsed_ms     INTEGER NOT NULL DEFAULT 0,
			prompt_chars   INTEGER NOT NULL DEFAULT 0,
			response_chars INTEGER NOT NULL DEFAULT 0,
			patch_bytes    INTEGER NOT NULL DEFAULT 0,
			secret_scan    TEXT NOT NULL DEFAULT '{}',
			diff_path      TEXT NOT NULL DEFAULT '',
			patch_sha256   TEXT NOT NULL DEFAULT '',
			repo_root      TEXT NOT NULL DEFAULT '',
			commit_sha     TEXT NOT NULL DEFAULT '',
			stderr         TEXT NOT NULL DEFAULT '',
			error          TEXT NOT NULL DEFAULT '',
			reverted       INTEGER NOT NULL DEFAULT 0,
			created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS session_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			attempt    INTEGER NOT NULL DEFAULT 0,
			phase      TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_session_id
			ON session_events(session_id);
	`)
	return err
}

// Close closes the database connection.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Record stores a finished session. The patch hash is taken from the diff
// file on disk so a later undo can tell whether it was edited.
func (m *Manager) Record(res *model.Result, repoRoot string) error {
	scan, err := json.Marshal(res.SecretScan)
	if err != nil {
		return fmt.Errorf("encoding secret scan: %w", err)
	}
	sum := ""
	if res.DiffPath != "" {
		if sum, err = fs.GetFileSHA256(res.DiffPath); err != nil {
			sum = ""
		}
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = m.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, status, apply_mode, diff_found, diff_validated,
			diff_applied, retry_count, elapsed_ms, prompt_chars, response_chars, patch_bytes,
			secret_scan, diff_path, patch_sha256, repo_root, commit_sha, stderr, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.SessionID, res.Status, res.ApplyMode, res.DiffFound, res.DiffValidated,
		res.DiffApplied, res.RetryCount, res.ElapsedMs, res.PromptChars, res.ResponseChars, res.PatchBytes,
		string(scan), res.DiffPath, sum, repoRoot, res.CommitSHA, res.Stderr, res.Error, createdAt,
	)
	if err != nil {
		return fmt.Errorf("recording session %s: %w", res.SessionID, err)
	}
	return nil
}

// AddEvent appends a progress event to a session's log.
func (m *Manager) AddEvent(ev model.Event) error {
	at := ev.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := m.db.Exec(
		`INSERT INTO session_events (session_id, attempt, phase, message, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Attempt, ev.Phase, ev.Message, at,
	)
	return err
}

// Events returns a session's events in order.
func (m *Manager) Events(sessionID string) ([]model.Event, error) {
	rows, err := m.db.Query(
		`SELECT session_id, attempt, phase, message, created_at
		 FROM session_events WHERE session_id = ? ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.SessionID, &ev.Attempt, &ev.Phase, &ev.Message, &ev.Time); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

const selectEntry = `SELECT id, status, apply_mode, diff_found, diff_validated, diff_applied,
	retry_count, elapsed_ms, prompt_chars, response_chars, patch_bytes, secret_scan,
	diff_path, patch_sha256, repo_root, commit_sha, stderr, error, reverted, created_at
	FROM sessions`

// Get returns the entry for a session id.
func (m *Manager) Get(id string) (*Entry, error) {
	return scanEntry(m.db.QueryRow(selectEntry+` WHERE id = ?`, id))
}

// List returns up to limit entries, newest first. A limit <= 0 returns all.
func (m *Manager) List(limit int) ([]*Entry, error) {
	query := selectEntry + ` ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastApplied returns the newest applied, not yet reverted session.
func (m *Manager) LastApplied() (*Entry, error) {
	return scanEntry(m.db.QueryRow(
		selectEntry + ` WHERE diff_applied = 1 AND reverted = 0 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	))
}

// MarkReverted flags a session's patch as undone.
func (m *Manager) MarkReverted(id string) error {
	res, err := m.db.Exec(`UPDATE sessions SET reverted = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*Entry, error) {
	e := &Entry{}
	var scan string
	err := row.Scan(
		&e.SessionID, &e.Status, &e.ApplyMode, &e.DiffFound, &e.DiffValidated, &e.DiffApplied,
		&e.RetryCount, &e.ElapsedMs, &e.PromptChars, &e.ResponseChars, &e.PatchBytes, &scan,
		&e.DiffPath, &e.PatchSHA256, &e.RepoRoot, &e.CommitSHA, &e.Stderr, &e.Error, &e.Reverted, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scan), &e.SecretScan); err != nil {
		return nil, fmt.Errorf("decoding secret scan: %w", err)
	}
	return e, nil
}
