// Package index maintains a secondary sqlite index over session metadata.
//
// The JSON tree under the workspace root (session.json per session) is the
// only durable record of session state; this index exists purely to answer
// list/filter queries without walking that tree on every request. Open
// only creates the schema; Rebuild repopulates the index from the JSON
// files, and Upsert/Remove keep single rows in step as the caller writes
// through the session store. It is never treated as authoritative: if the
// database is missing, corrupt, or out of date with the JSON tree, callers
// should rebuild it rather than trust it.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"boardsim/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id       INTEGER PRIMARY KEY,
	state            INTEGER NOT NULL,
	current_branch   TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	last_used_at     TEXT NOT NULL,
	total_ticks      INTEGER NOT NULL,
	circuit_revision INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_state_idx ON sessions(state);
CREATE INDEX IF NOT EXISTS sessions_last_used_idx ON sessions(last_used_at);
`

// Index is a typed wrapper over a sqlite database indexing session metadata,
// following the teacher's pattern of a small struct around *sql.DB with
// WAL mode and a busy timeout so concurrent readers (e.g. a CLI list command
// running alongside the daemon) don't collide with writers.
type Index struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite index file at path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}

	return &Index{db: db}, nil
}

func (idx *Index) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

// Upsert writes or overwrites a single session's row, matching the
// corresponding session.json. Called after session store mutations
// (create, state change, tick advance; deletion goes through Remove) so
// the index never drifts far from the JSON tree it mirrors.
func (idx *Index) Upsert(meta session.Metadata) error {
	_, err := idx.db.Exec(`
		INSERT INTO sessions (session_id, state, current_branch, created_at, last_used_at, total_ticks, circuit_revision)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state=excluded.state,
			current_branch=excluded.current_branch,
			last_used_at=excluded.last_used_at,
			total_ticks=excluded.total_ticks,
			circuit_revision=excluded.circuit_revision
	`, meta.SessionID, int(meta.State), meta.CurrentBranch, meta.CreatedAt, meta.LastUsedAt, meta.TotalTicks, meta.CircuitRevision)
	if err != nil {
		return fmt.Errorf("upsert session %d: %w", meta.SessionID, err)
	}
	return nil
}

// Remove deletes a session's row, called when the session store deletes
// the session's on-disk directory.
func (idx *Index) Remove(sessionID int) error {
	if _, err := idx.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("remove session %d: %w", sessionID, err)
	}
	return nil
}

// Row is one indexed session's summary, independent of session.Metadata so
// callers that only need list-view fields don't pay for loading branches.
type Row struct {
	SessionID       int
	State           session.State
	CurrentBranch   string
	CreatedAt       string
	LastUsedAt      string
	TotalTicks      int
	CircuitRevision int64
}

// ListByState returns every indexed session in the given state, ordered by
// most recently used first. Pass -1 to list all states.
func (idx *Index) ListByState(state int) ([]Row, error) {
	var rows *sql.Rows
	var err error
	if state < 0 {
		rows, err = idx.db.Query(`SELECT session_id, state, current_branch, created_at, last_used_at, total_ticks, circuit_revision FROM sessions ORDER BY last_used_at DESC`)
	} else {
		rows, err = idx.db.Query(`SELECT session_id, state, current_branch, created_at, last_used_at, total_ticks, circuit_revision FROM sessions WHERE state = ? ORDER BY last_used_at DESC`, state)
	}
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var st int
		if err := rows.Scan(&r.SessionID, &st, &r.CurrentBranch, &r.CreatedAt, &r.LastUsedAt, &r.TotalTicks, &r.CircuitRevision); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		r.State = session.State(st)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the total number of indexed sessions, used by callers
// deciding whether the index looks stale relative to the JSON tree.
func (idx *Index) Count() (int, error) {
	var n int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Rebuild truncates the index and repopulates it from the authoritative
// session store's current listing, recovering from any drift (a crash
// mid-write, a manually edited session.json, or a missing index file).
func Rebuild(idx *Index, store *session.Store) (rebuilt int, corrupt []int, err error) {
	result, err := store.ListSessions()
	if err != nil {
		return 0, nil, fmt.Errorf("list sessions for rebuild: %w", err)
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return 0, nil, fmt.Errorf("begin rebuild transaction: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		_ = tx.Rollback()
		return 0, nil, fmt.Errorf("clear sessions table: %w", err)
	}
	for _, meta := range result.Sessions {
		_, err := tx.Exec(`
			INSERT INTO sessions (session_id, state, current_branch, created_at, last_used_at, total_ticks, circuit_revision)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, meta.SessionID, int(meta.State), meta.CurrentBranch, meta.CreatedAt, meta.LastUsedAt, meta.TotalTicks, meta.CircuitRevision)
		if err != nil {
			_ = tx.Rollback()
			return 0, nil, fmt.Errorf("insert session %d: %w", meta.SessionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit rebuild transaction: %w", err)
	}

	return len(result.Sessions), result.CorruptSessions, nil
}
