package relay

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryCallStore keeps call records for the life of the process.
type MemoryCallStore struct {
	mu      sync.Mutex
	records []CallRecord
	index   map[string]int // id -> position in records
}

// NewMemoryCallStore returns an empty store.
func NewMemoryCallStore() *MemoryCallStore {
	return &MemoryCallStore{index: make(map[string]int)}
}

func (s *MemoryCallStore) Save(r CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[r.ID]; ok {
		s.records[i] = r
		return nil
	}
	s.index[r.ID] = len(s.records)
	s.records = append(s.records, r)
	return nil
}

func (s *MemoryCallStore) Latest(caller, callee string) (CallRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if r := s.records[i]; r.Caller == caller && r.Callee == callee {
			return r, true, nil
		}
	}
	return CallRecord{}, false, nil
}

func (s *MemoryCallStore) OpenCalls(user string) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CallRecord
	for _, r := range s.records {
		if r.Open() && (r.Caller == user || r.Callee == user) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// SQLite
// ---------------------------------------------------------------------------

// SQLiteCallStore keeps call records in a SQLite database.
type SQLiteCallStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenCallStore opens or creates the call database at path.
func OpenCallStore(path string) (*SQLiteCallStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create call store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open call database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure call database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS call_session (
			id           TEXT PRIMARY KEY,
			caller       TEXT NOT NULL,
			callee       TEXT NOT NULL,
			status       TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			connected_at INTEGER NOT NULL DEFAULT 0,
			ended_at     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_call_session_pair ON call_session(caller, callee, created_at);
		CREATE INDEX IF NOT EXISTS idx_call_session_status ON call_session(status);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call_session table: %w", err)
	}

	log.Debugf("call store at %s", path)
	return &SQLiteCallStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteCallStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteCallStore) Save(r CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO call_session (id, caller, callee, status, created_at, connected_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status       = excluded.status,
			connected_at = excluded.connected_at,
			ended_at     = excluded.ended_at
	`, r.ID, r.Caller, r.Callee, string(r.Status),
		unixNano(r.CreatedAt), unixNano(r.ConnectedAt), unixNano(r.EndedAt))
	if err != nil {
		return fmt.Errorf("save call %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteCallStore) Latest(caller, callee string) (CallRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(`
		SELECT id, caller, callee, status, created_at, connected_at, ended_at
		FROM call_session
		WHERE caller = ? AND callee = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, caller, callee)
	r, err := scanCall(row)
	if err == sql.ErrNoRows {
		return CallRecord{}, false, nil
	}
	if err != nil {
		return CallRecord{}, false, err
	}
	return r, true, nil
}

func (s *SQLiteCallStore) OpenCalls(user string) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT id, caller, callee, status, created_at, connected_at, ended_at
		FROM call_session
		WHERE (caller = ? OR callee = ?) AND status IN (?, ?)
		ORDER BY created_at, rowid
	`, user, user, string(StatusTrying), string(StatusConnected))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		r, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(sc scanner) (CallRecord, error) {
	var (
		r                         CallRecord
		status                    string
		created, connected, ended int64
	)
	if err := sc.Scan(&r.ID, &r.Caller, &r.Callee, &status, &created, &connected, &ended); err != nil {
		return CallRecord{}, err
	}
	r.Status = Status(status)
	r.CreatedAt = fromUnixNano(created)
	r.ConnectedAt = fromUnixNano(connected)
	r.EndedAt = fromUnixNano(ended)
	return r, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
