package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vozlab/voz/internal/domain"
	_ "modernc.org/sqlite"
)

// isConflictError reports whether err is a SQLite concurrency conflict.
// The driver surfaces contention as SQLITE_BUSY or "database is locked"
// depending on the code path; both clear on retry.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked")
}

// execRetry runs a write statement, retrying briefly on SQLite
// concurrency conflicts that survive the busy timeout.
func execRetry(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		res, err = db.ExecContext(ctx, query, args...)
		if err == nil || !isConflictError(err) {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return res, err
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		module_slug TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		keywords_json TEXT NOT NULL DEFAULT '[]',
		message_count INTEGER NOT NULL DEFAULT 0,
		ended_at INTEGER,
		summary TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(device_id) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity_at) WHERE ended_at IS NULL;

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		response TEXT NOT NULL,
		keywords_in_json TEXT NOT NULL DEFAULT '[]',
		keywords_out_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);

	CREATE TABLE IF NOT EXISTS device_activity (
		device_id TEXT PRIMARY KEY,
		last_module_slug TEXT NOT NULL,
		last_session_id TEXT NOT NULL,
		last_active_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetActiveSession retrieves the active session for a device.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, deviceID string) (*domain.Session, error) {
	query := `
		SELECT id, device_id, module_slug, started_at, last_activity_at,
		       keywords_json, message_count, ended_at, summary
		FROM sessions
		WHERE device_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, deviceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var keywordsJSON string
	var startedAt, lastActivity int64
	var endedAt sql.NullInt64
	var summary sql.NullString

	err := row.Scan(
		&sess.ID, &sess.DeviceID, &sess.Module, &startedAt, &lastActivity,
		&keywordsJSON, &sess.MessageCount, &endedAt, &summary,
	)
	if err != nil {
		return nil, err
	}

	sess.StartedAt = time.Unix(startedAt, 0)
	sess.LastActivityAt = time.Unix(lastActivity, 0)
	sess.Summary = summary.String
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		sess.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &sess.RecentKeywords); err != nil {
		// Corrupt keyword blob loses drift detection for one turn, nothing else.
		sess.RecentKeywords = nil
	}
	return &sess, nil
}

// InsertSession creates a new session record.
func (s *SQLiteStore) InsertSession(ctx context.Context, sess *domain.Session) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	keywords, err := json.Marshal(sess.RecentKeywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	query := `
	INSERT INTO sessions (id, device_id, module_slug, started_at, last_activity_at, keywords_json, message_count)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = execRetry(ctx, s.db, query,
		sess.ID, sess.DeviceID, sess.Module,
		sess.StartedAt.Unix(), sess.LastActivityAt.Unix(),
		string(keywords), sess.MessageCount,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSessionActivity updates activity bookkeeping after a turn.
func (s *SQLiteStore) UpdateSessionActivity(ctx context.Context, sessionID string, lastActivity time.Time, keywords []string, messageCount int) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	blob, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	query := `
	UPDATE sessions
	SET last_activity_at = ?, keywords_json = ?, message_count = ?
	WHERE id = ? AND ended_at IS NULL`

	res, err := execRetry(ctx, s.db, query, lastActivity.Unix(), string(blob), messageCount, sessionID)
	if err != nil {
		return fmt.Errorf("update session activity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// EndSession marks a session ended with an optional summary.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time, summary string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	var summaryVal any
	if summary != "" {
		summaryVal = summary
	}

	query := `UPDATE sessions SET ended_at = ?, summary = ? WHERE id = ? AND ended_at IS NULL`
	res, err := execRetry(ctx, s.db, query, endedAt.Unix(), summaryVal, sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTurn appends one exchange to a session.
func (s *SQLiteStore) InsertTurn(ctx context.Context, turn *domain.Turn) error {
	in, err := json.Marshal(turn.KeywordsIn)
	if err != nil {
		return fmt.Errorf("marshal user keywords: %w", err)
	}
	out, err := json.Marshal(turn.KeywordsOut)
	if err != nil {
		return fmt.Errorf("marshal assistant keywords: %w", err)
	}

	query := `
	INSERT INTO turns (id, session_id, question, response, keywords_in_json, keywords_out_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = execRetry(ctx, s.db, query,
		turn.ID, turn.SessionID, turn.Question, turn.Response,
		string(in), string(out), turn.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// ListTurns returns up to limit most recent turns, oldest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]*domain.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, session_id, question, response, keywords_in_json, keywords_out_json, created_at
	FROM (
		SELECT * FROM turns WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
	) ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []*domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var inJSON, outJSON string
		var createdAt int64
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Question, &turn.Response, &inJSON, &outJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.CreatedAt = time.Unix(createdAt, 0)
		_ = json.Unmarshal([]byte(inJSON), &turn.KeywordsIn)
		_ = json.Unmarshal([]byte(outJSON), &turn.KeywordsOut)
		turns = append(turns, &turn)
	}
	return turns, rows.Err()
}

// GetDeviceActivity retrieves the last known activity for a device.
func (s *SQLiteStore) GetDeviceActivity(ctx context.Context, deviceID string) (*domain.DeviceActivity, error) {
	query := `
	SELECT device_id, last_module_slug, last_session_id, last_active_at
	FROM device_activity WHERE device_id = ?`

	var act domain.DeviceActivity
	var lastActive int64
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&act.DeviceID, &act.LastModule, &act.LastSessionID, &lastActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan device activity: %w", err)
	}
	act.LastActiveAt = time.Unix(lastActive, 0)
	return &act, nil
}

// UpsertDeviceActivity creates or updates the device activity record.
func (s *SQLiteStore) UpsertDeviceActivity(ctx context.Context, act *domain.DeviceActivity) error {
	query := `
	INSERT INTO device_activity (device_id, last_module_slug, last_session_id, last_active_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		last_module_slug = excluded.last_module_slug,
		last_session_id = excluded.last_session_id,
		last_active_at = excluded.last_active_at`

	_, err := execRetry(ctx, s.db, query,
		act.DeviceID, act.LastModule, act.LastSessionID, act.LastActiveAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert device activity: %w", err)
	}
	return nil
}

// CleanupStaleSessions ends sessions idle longer than ttl.
func (s *SQLiteStore) CleanupStaleSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	cutoff := time.Now().Add(-ttl).Unix()
	query := `UPDATE sessions SET ended_at = ? WHERE ended_at IS NULL AND last_activity_at < ?`
	res, err := execRetry(ctx, s.db, query, time.Now().Unix(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale sessions: %w", err)
	}
	return res.RowsAffected()
}
