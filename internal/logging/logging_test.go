package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/tanmay/stackgate/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept", "entry", "limiter")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "kept" || record["entry"] != "limiter" {
		t.Errorf("Unexpected record: %v", record)
	}
}

func TestNewInvalid(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Errorf("Expected error for unknown level")
	}
	if _, err := New(config.LogConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Errorf("Expected error for unknown format")
	}
}
