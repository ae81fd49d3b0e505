package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(LoggerConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestNewLogger_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	log, err := NewLogger(LoggerConfig{Level: "debug", FilePath: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	WithRecordOperation(log, "rec-1", "process").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("Expected a JSON line, got %q: %v", data, err)
	}
	if line["message"] != "hello" || line["record"] != "rec-1" || line["operation"] != "process" {
		t.Errorf("Unexpected log line: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Error("Expected timestamp key")
	}
}

func TestHelpers(t *testing.T) {
	log := Discard()
	log.SetLevel(logrus.DebugLevel)

	if e := WithRecord(log, "r"); e.Data["record"] != "r" {
		t.Errorf("Unexpected record field: %v", e.Data)
	}
	if e := WithOperation(log, "op"); e.Data["operation"] != "op" {
		t.Errorf("Unexpected operation field: %v", e.Data)
	}
	e := WithImage(log, "r", "beach.jpg", "process")
	if e.Data[FieldRecord] != "r" || e.Data[FieldImage] != "beach.jpg" || e.Data[FieldOperation] != "process" {
		t.Errorf("Unexpected image fields: %v", e.Data)
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := NewLogger(LoggerConfig{Level: "info", FilePath: path, Text: true})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	log.Info("plain")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("msg=plain")) {
		t.Errorf("Expected text formatted line, got %q", data)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FilePath != "image-optimizer.log" || cfg.Level != "info" || !cfg.Console {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
}
