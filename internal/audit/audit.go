// Package audit appends conversation turns to per-device NDJSON files.
// Logging is best-effort: writes happen on a background worker behind a
// bounded queue, and events are dropped rather than blocking a turn.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Config controls the audit logger.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one audit record. One line per NDJSON file.
type Event struct {
	Timestamp time.Time `json:"ts"`
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id"`
	AgentSlug string    `json:"agent_slug,omitempty"`
	Question  string    `json:"question"`
	Response  string    `json:"response"`
}

// Logger is the audit-log port. A nil *Logger drops everything, so
// callers never need an enabled check.
type Logger struct {
	cfg     Config
	logger  *slog.Logger
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int64
}

// New starts the audit worker. Returns nil when disabled.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global audit log dir: %w", err)
		}
	}
	l := &Logger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// RecordTurn enqueues one completed turn. Never blocks; overflow drops
// the event, and turns finishing after Close are dropped silently since
// detached voice turns can outlive server shutdown.
func (l *Logger) RecordTurn(deviceID, sessionID, agentSlug, question, response string) {
	if l == nil {
		return
	}
	ev := Event{
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		SessionID: sessionID,
		AgentSlug: agentSlug,
		Question:  question,
		Response:  response,
	}

	// The mutex orders this send against Close: closed flips before the
	// channel closes, so no send can hit a closed queue.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.dropped++
		if l.dropped%100 == 1 {
			l.logger.Warn("audit log queue full, dropping events", "dropped", l.dropped)
		}
	}
}

// Close drains the queue and stops the worker.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.queue)
		<-l.done
	})
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.logger.Warn("audit log write failed", "device_id", ev.DeviceID, "error", err)
		}
	}
}

var unsafePathPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return unsafePathPattern.ReplaceAllString(s, "_")
}

func (l *Logger) write(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	line = append(line, '\n')

	dir := filepath.Join(l.cfg.Dir, safeName(ev.DeviceID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}
	path := filepath.Join(dir, safeName(ev.SessionID)+".ndjson")
	if err := appendLine(path, line); err != nil {
		return err
	}

	if l.cfg.GlobalEnabled {
		if err := appendLine(l.cfg.GlobalPath, line); err != nil {
			l.logger.Warn("global audit log write failed", "error", err)
		}
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
