package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogRecordsStatusAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := WithRequestLog("portal", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req = req.WithContext(ContextWithLogger(req.Context(), logger))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "http_request" || entry["level"] != "WARN" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["status"] != float64(http.StatusNotFound) || entry["bytes"] != float64(len("missing")) {
		t.Fatalf("unexpected status/bytes: %v", entry)
	}
	if entry["service"] != "portal" || entry["path"] != "/api/documents" {
		t.Fatalf("unexpected service/path: %v", entry)
	}
}
