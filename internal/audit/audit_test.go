package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAuditLoggerWritesPerDeviceNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.RecordTurn("dev_1", "sess_1", "saude", "qual o protocolo de dengue", "hidratação e acompanhamento")

	path := filepath.Join(dir, "dev_1", "sess_1.ndjson")
	line := waitForLogLine(t, path)
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Question != "qual o protocolo de dengue" {
		t.Fatalf("unexpected question: %q", got.Question)
	}
	if got.AgentSlug != "saude" {
		t.Fatalf("unexpected agent slug: %q", got.AgentSlug)
	}
}

func TestAuditLoggerGlobalFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all.ndjson")
	logger, err := New(Config{
		Enabled:       true,
		Dir:           filepath.Join(dir, "per-device"),
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.RecordTurn("dev_1", "sess_1", "cidade", "população de campinas", "1,2 milhão")
	logger.RecordTurn("dev_2", "sess_9", "cidade", "população de santos", "433 mil")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(global)
	if err != nil {
		t.Fatalf("failed to read global log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 global lines, got %d", len(lines))
	}
}

func TestAuditLoggerSanitizesIdentifiers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 4}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.RecordTurn("../../etc/passwd", "sess/../1", "saude", "q", "r")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to list audit dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), "..") || strings.Contains(entry.Name(), "/") {
			t.Fatalf("unsafe path component survived: %q", entry.Name())
		}
	}
}

func TestRecordTurnAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{
		Enabled:   true,
		Dir:       t.TempDir(),
		QueueSize: 4,
	}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Detached voice turns can finish after shutdown; a late record must
	// be dropped, not panic on the closed queue.
	logger.RecordTurn("dev_1", "sess_1", "saude", "pergunta tardia", "resposta")

	if err := logger.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}

func TestDisabledLoggerIsNil(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Enabled: false}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger != nil {
		t.Fatal("expected nil logger when disabled")
	}
	// Nil receiver must be safe.
	logger.RecordTurn("dev", "sess", "agent", "q", "r")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close on nil failed: %v", err)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
