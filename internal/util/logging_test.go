package util

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerLevelAndService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "portal", "warn")

	logger.Info("dropped")
	logger.Warn("kept", "user_id", 7)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one record above warn, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec["msg"] != "kept" || rec["service"] != "portal" || rec["level"] != "WARN" {
		t.Fatalf("unexpected record %v", rec)
	}
	if _, ok := rec["source"]; !ok {
		t.Fatalf("expected source attribute")
	}
}

func TestWithLogFileIgnoresEmptyPath(t *testing.T) {
	var o logOptions
	WithLogFile(LogFile{Path: "  "})(&o)
	if o.file != nil {
		t.Fatalf("empty path must not enable file output")
	}
	WithLogFile(LogFile{Path: "/var/log/portal.log", MaxSizeMB: 10})(&o)
	if o.file == nil || o.file.MaxSizeMB != 10 {
		t.Fatalf("expected file output to be configured, got %+v", o.file)
	}
}
