package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestLevelString(t *testing.T) {
	for _, want := range []string{"debug", "info", "warn", "error"} {
		level, _ := ParseLevel(want)
		if got := LevelString(level); got != want {
			t.Errorf("LevelString(%v) = %q, want %q", level, got, want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.Component != "sramprint" {
		t.Errorf("expected component sramprint, got %s", cfg.Component)
	}
}

func TestJSONFormatCarriesComponentAndRunID(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelDebug, Format: FormatJSON, Component: "analysis", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := ContextWithRunID(context.Background(), "run-42")
	l.WithContext(ctx).Info("loaded", "samples", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	if entry["component"] != "analysis" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["run_id"] != "run-42" {
		t.Errorf("run_id = %v", entry["run_id"])
	}
	if entry["samples"] != float64(3) {
		t.Errorf("samples = %v", entry["samples"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelWarn, Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message missing")
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelInfo, Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("connect", "broker", "tcp://localhost:1883", "password", "hunter2")
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("password leaked: %s", out)
	}
	if !strings.Contains(out, "tcp://localhost:1883") {
		t.Errorf("broker missing: %s", out)
	}
}

func TestShouldRedact(t *testing.T) {
	tests := map[string]bool{
		"password":      true,
		"mqtt_Password": true,
		"auth_token":    true,
		"device":        false,
		"digest":        false,
	}
	for key, want := range tests {
		if got := shouldRedact(key); got != want {
			t.Errorf("shouldRedact(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestRunIDFromNilContext(t *testing.T) {
	//nolint:staticcheck
	if id := RunIDFromContext(nil); id != "" {
		t.Errorf("expected empty run ID, got %q", id)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sramprint.log")
	l, err := New(&Config{Level: LevelInfo, Output: "file", FilePath: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("hello file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file content: %s", data)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rot.log")
	r, err := NewFileRotator(&Config{FilePath: path, MaxSize: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	defer r.Close()

	chunk := bytes.Repeat([]byte("x"), 700*1024)
	for i := 0; i < 3; i++ {
		if _, err := r.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("expected 1 retained backup, got %d: %v", len(backups), backups)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("active log size = %d, want %d", info.Size(), len(chunk))
	}
}
