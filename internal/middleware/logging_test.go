package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// testLogEntry represents a parsed JSON log entry for testing.
type testLogEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	Service   string `json:"service"`
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func serve(t *testing.T, handler http.Handler, path string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func parseEntry(t *testing.T, buf *bytes.Buffer) testLogEntry {
	t.Helper()
	var entry testLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

func TestLogging_BasicFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	serve(t, handler, "/health")
	entry := parseEntry(t, buf)

	if entry.Method != "GET" {
		t.Errorf("expected method GET, got %s", entry.Method)
	}
	if entry.Path != "/health" {
		t.Errorf("expected path /health, got %s", entry.Path)
	}
	if entry.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.Status)
	}
	if entry.Size != 2 {
		t.Errorf("expected size 2, got %d", entry.Size)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
	if entry.Msg != "request completed" {
		t.Errorf("expected msg 'request completed', got %s", entry.Msg)
	}
}

func TestLogging_WithRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "scrape-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseEntry(t, buf)
	if entry.RequestID != "scrape-42" {
		t.Errorf("expected request_id scrape-42, got %q", entry.RequestID)
	}
}

func TestLogging_Levels(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		path      string
		wantLevel string
	}{
		{"server error", http.StatusServiceUnavailable, "/health", "ERROR"},
		{"client error", http.StatusNotFound, "/missing", "WARN"},
		{"quiet path", http.StatusOK, "/metrics", "DEBUG"},
		{"quiet path still warns", http.StatusNotFound, "/metrics", "WARN"},
		{"regular path", http.StatusOK, "/health", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			handler := Logging(newTestLogger(buf), "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			serve(t, handler, tt.path)
			entry := parseEntry(t, buf)

			if entry.Level != tt.wantLevel {
				t.Errorf("expected level %s, got %s", tt.wantLevel, entry.Level)
			}
			if entry.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, entry.Status)
			}
		})
	}
}

func TestLogging_DefaultStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	}))

	serve(t, handler, "/health")
	entry := parseEntry(t, buf)

	if entry.Status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", entry.Status)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestNewLogger_Production(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, "production", "")

	logger.Debug("hidden")
	logger.Info("ranking run completed", "guides", 3)

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Error("expected debug to be filtered in production")
	}
	var entry testLogEntry
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("expected JSON output in production, got %q", out)
	}
	if entry.Service != "guiderank" {
		t.Errorf("expected service guiderank, got %q", entry.Service)
	}
}

func TestNewLogger_Development(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, "development", "")

	logger.Debug("fetched guide aggregates")

	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") {
		t.Errorf("expected text debug output, got %q", out)
	}
}

func TestNewLogger_LevelOverride(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, "development", "warn")

	logger.Info("ignored")
	logger.Warn("legacy repeat mode in use")

	out := buf.String()
	if strings.Contains(out, "ignored") {
		t.Error("expected info to be filtered at warn level")
	}
	if !strings.Contains(out, "legacy repeat mode in use") {
		t.Errorf("expected warn output, got %q", out)
	}
}

func TestResponseWriter_WriteHeader(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := newResponseWriter(rr)

	rw.WriteHeader(http.StatusServiceUnavailable)
	rw.WriteHeader(http.StatusOK)

	if rw.statusCode != http.StatusServiceUnavailable {
		t.Errorf("expected first status to stick, got %d", rw.statusCode)
	}
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected recorder code 503, got %d", rr.Code)
	}
}

func TestResponseWriter_Write(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())

	_, _ = rw.Write([]byte("guide"))
	_, _ = rw.Write([]byte("rank"))

	if rw.size != 9 {
		t.Errorf("expected size 9, got %d", rw.size)
	}
}
