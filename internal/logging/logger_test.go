package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", &buf)

	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	if bytes.Contains([]byte(out), []byte("hidden")) {
		t.Error("debug message leaked at info level")
	}
	if !bytes.Contains([]byte(out), []byte("shown")) {
		t.Error("info message missing")
	}
}

func TestNewEventLogger_NilAtInfoLevel(t *testing.T) {
	dir := t.TempDir()
	if el := NewEventLogger(dir, "info"); el != nil {
		t.Error("event logger should be nil at info level")
	}
	if _, err := os.Stat(filepath.Join(dir, "events.jsonl")); !os.IsNotExist(err) {
		t.Error("no file should be created at info level")
	}
}

func TestEventLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "debug")
	if el == nil {
		t.Fatal("event logger should be created at debug level")
	}

	el.Log(map[string]any{"event": "consolidate", "merged": 3})
	el.Log(map[string]any{"event": "async_start", "shards": 4})
	el.Close()

	f, err := os.Open(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("events file missing: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		if _, ok := entry["time"]; !ok {
			t.Error("entry missing time field")
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}
}

func TestEventLogger_NilSafe(t *testing.T) {
	var el *EventLogger
	el.Log(map[string]any{"event": "x"})
	el.Close()
}
