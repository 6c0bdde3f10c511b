package applogger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the collector's sqlite database of sessions and records.
type Store struct {
	conn  *sql.DB
	path  string
	mutex sync.Mutex
}

// StoredSession is a session row as kept by the collector.
type StoredSession struct {
	ID        string           `json:"id"`
	AppName   string           `json:"appName"`
	Device    DeviceDescriptor `json:"device"`
	StartedAt time.Time        `json:"startedAt"`
	EndedAt   *time.Time       `json:"endedAt,omitempty"`
}

func OpenStore(dbPath string) (*Store, error) {
	st := &Store{path: dbPath}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers anyway; one connection keeps :memory: databases shared.
	conn.SetMaxOpenConns(1)
	st.conn = conn

	if err := st.createTablesIfNotExist(); err != nil {
		conn.Close()
		return nil, err
	}

	return st, nil
}

func (st *Store) createTablesIfNotExist() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		app_name TEXT,
		device TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT,
		timestamp DATETIME NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS logs_session_idx ON logs (session_id);`

	_, err := st.conn.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

func (st *Store) Close() error {
	if st.conn != nil {
		return st.conn.Close()
	}
	return nil
}

func (st *Store) CreateSession(id, appName string, device DeviceDescriptor) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	deviceJSON, err := json.Marshal(device)
	if err != nil {
		return err
	}
	_, err = st.conn.Exec("INSERT INTO sessions (id, app_name, device, started_at) VALUES (?, ?, ?, ?)",
		id, appName, string(deviceJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// EndSession marks an open session as ended. It reports false when no open
// session has that id.
func (st *Store) EndSession(id string) (bool, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	res, err := st.conn.Exec("UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL", time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SessionOpen reports whether id names a session that has not ended.
func (st *Store) SessionOpen(id string) (bool, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	var count int
	err := st.conn.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ? AND ended_at IS NULL", id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (st *Store) GetSession(id string) (*StoredSession, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	var (
		s          StoredSession
		deviceJSON string
		endedAt    sql.NullTime
	)
	err := st.conn.QueryRow("SELECT id, app_name, device, started_at, ended_at FROM sessions WHERE id = ?", id).
		Scan(&s.ID, &s.AppName, &deviceJSON, &s.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(deviceJSON), &s.Device); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return &s, nil
}

func (st *Store) InsertRecords(records []Record) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	tx, err := st.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO logs (session_id, kind, level, message, timestamp, payload) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}

		_, err = stmt.Exec(r.SessionID, string(r.Kind), r.Level.String(), r.Message, r.Timestamp, string(payload))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRecords returns records newest first. An empty sessionID selects all sessions.
func (st *Store) GetRecords(sessionID string, limit, offset int) ([]Record, int, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	where, args := "", []any{}
	if sessionID != "" {
		where, args = " WHERE session_id = ?", append(args, sessionID)
	}

	// Get total count
	var totalCount int
	err := st.conn.QueryRow("SELECT COUNT(*) FROM logs"+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, err
	}

	query := "SELECT payload FROM logs" + where + " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := st.conn.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, err
		}

		var r Record
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, 0, err
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, totalCount, nil
}
