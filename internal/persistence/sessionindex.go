package persistence

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SessionIndex is a supplemental, adapter-optional sqlite-backed store
// backing listSessions/updateSessionName for orchestrators that don't
// maintain their own on-disk session layout. An adapter that can resolve
// its own sessions bypasses it entirely.
type SessionIndex struct {
	db *sql.DB
}

// SessionRecord is one row of the index.
type SessionRecord struct {
	AgentID      string
	Orchestrator string
	SessionID    string
	Name         string
	UpdatedAt    time.Time
}

// OpenSessionIndex opens (creating if necessary) the sqlite database at
// path and ensures its schema exists.
func OpenSessionIndex(path string) (*SessionIndex, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("persistence: open session index: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_index (
			agent_id      TEXT NOT NULL,
			orchestrator  TEXT NOT NULL,
			session_id    TEXT NOT NULL,
			name          TEXT,
			updated_at    DATETIME NOT NULL,
			PRIMARY KEY (agent_id, session_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: create session_index table: %w", err)
	}

	return &SessionIndex{db: db}, nil
}

// buildDSN applies _pragma parameters per-connection so every pooled
// connection is configured identically (WAL + busy_timeout avoid
// SQLITE_BUSY under concurrent supervisor access).
func buildDSN(path string) string {
	v := url.Values{}
	v.Set("_pragma", "journal_mode=WAL")
	v.Add("_pragma", "busy_timeout=30000")
	v.Add("_pragma", "synchronous=NORMAL")
	v.Add("_txlock", "immediate")
	return path + "?" + v.Encode()
}

// Close closes the underlying database handle.
func (s *SessionIndex) Close() error { return s.db.Close() }

// Upsert records that agentID's orchestrator most recently used sessionID.
// An empty name leaves any previously assigned display name in place.
func (s *SessionIndex) Upsert(agentID, orchestrator, sessionID, name string) error {
	_, err := s.db.Exec(`
		INSERT INTO session_index (agent_id, orchestrator, session_id, name, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (agent_id, session_id) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN session_index.name ELSE excluded.name END,
			updated_at = excluded.updated_at
	`, agentID, orchestrator, sessionID, name, time.Now())
	return err
}

// ListSessions returns every recorded session for agentID, most recently
// updated first.
func (s *SessionIndex) ListSessions(agentID string) ([]SessionRecord, error) {
	rows, err := s.db.Query(`
		SELECT agent_id, orchestrator, session_id, name, updated_at
		FROM session_index WHERE agent_id = ? ORDER BY updated_at DESC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var name sql.NullString
		if err := rows.Scan(&rec.AgentID, &rec.Orchestrator, &rec.SessionID, &name, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Name = name.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateSessionName renames (or clears, if name is empty) a session's
// display name.
func (s *SessionIndex) UpdateSessionName(agentID, sessionID, name string) error {
	res, err := s.db.Exec(`
		UPDATE session_index SET name = ?, updated_at = ? WHERE agent_id = ? AND session_id = ?
	`, name, time.Now(), agentID, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("persistence: no session %s for agent %s", sessionID, agentID)
	}
	return nil
}
