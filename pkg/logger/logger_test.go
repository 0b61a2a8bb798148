package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: InfoLevel, Service: "gateway", Output: &buf})

	log.WithFields(SessionIDField("s1")).Info("session ready", IntField("attempts", 2))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "session ready", entries[0]["msg"])
	assert.Equal(t, "gateway", entries[0]["service"])
	assert.Equal(t, "s1", entries[0]["session_id"])
	assert.Equal(t, "2", entries[0]["attempts"])
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    Level
		expected int
	}{
		{name: "debug logs everything", level: DebugLevel, expected: 4},
		{name: "info skips debug", level: InfoLevel, expected: 3},
		{name: "warn keeps warn and error", level: WarnLevel, expected: 2},
		{name: "error only", level: ErrorLevel, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewLogger(Config{Level: tt.level, Output: &buf})
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")
			assert.Len(t, decodeLines(t, &buf), tt.expected)
		})
	}
}

func TestWithFieldsIsImmutable(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(Config{Level: InfoLevel, Output: &buf})
	child := base.WithFields(ComponentField("registry"))

	base.Info("from base")
	child.Info("from child")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	_, hasComponent := entries[0]["component"]
	assert.False(t, hasComponent)
	assert.Equal(t, "registry", entries[1]["component"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, "warn", WarnLevel.String())
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, LogField{Key: "k", Value: "v"}, StringField("k", "v"))
	assert.Equal(t, "42", IntField("n", 42).Value)
	assert.Equal(t, "true", BoolField("b", true).Value)
	assert.Equal(t, "1.5s", DurationField("d", 1500*time.Millisecond).Value)
	assert.Equal(t, "boom", ErrorField(errors.New("boom")).Value)
	assert.Equal(t, "<nil>", ErrorField(nil).Value)
	assert.Equal(t, "2.5", Field("f", 2.5).Value)
	assert.Equal(t, "3s", Field("d", 3*time.Second).Value)
	assert.Equal(t, "session_id", SessionIDField("x").Key)
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: InfoLevel, Output: &buf})

	handler := log.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetCorrelationIDFromContext(r.Context()))
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "418", entries[0]["http_status"])
	assert.Equal(t, "15", entries[0]["response_bytes"])
	assert.Equal(t, "/sessions", entries[0]["http_path"])
}

func TestEnsureHTTPCorrelationID(t *testing.T) {
	t.Run("keeps valid id", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationIDHeader, id)

		req, got := EnsureHTTPCorrelationID(req)
		assert.Equal(t, id, got)
		assert.Equal(t, id, GetCorrelationIDFromContext(req.Context()))
	})

	t.Run("replaces invalid id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationIDHeader, "not-a-uuid")

		req, got := EnsureHTTPCorrelationID(req)
		assert.NotEqual(t, "not-a-uuid", got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
		assert.Equal(t, got, req.Header.Get(CorrelationIDHeader))
	})
}
