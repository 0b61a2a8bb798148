package httpmiddleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 60*time.Second, config.Timeout)
	assert.NotNil(t, config.CORS)
	assert.True(t, config.EnableCorrelationID)
	assert.True(t, config.EnableRecovery)
	assert.False(t, config.EnableLogging)
}

func TestCorrelationID(t *testing.T) {
	var captured string
	handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = logger.GetCorrelationIDFromContext(r.Context())
	}))

	t.Run("generates id when missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		_, err := uuid.Parse(captured)
		require.NoError(t, err)
		assert.Equal(t, captured, rec.Header().Get(logger.CorrelationIDHeader))
	})

	t.Run("keeps valid caller id", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(logger.CorrelationIDHeader, id)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, id, captured)
	})

	t.Run("replaces malformed caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(logger.CorrelationIDHeader, "not-a-uuid")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.NotEqual(t, "not-a-uuid", captured)
	})
}

func TestApplyToRouter(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Logger = logger.NewLogger(logger.Config{Level: logger.DebugLevel, Format: "json", Output: &buf})
	config.EnableLogging = true

	var extraCalled bool
	config.Extra = []func(http.Handler) http.Handler{func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			extraCalled = true
			next.ServeHTTP(w, r)
		})
	}}

	router := chi.NewRouter()
	ApplyToRouter(router, config)
	router.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.True(t, extraCalled)
	assert.NotEmpty(t, rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, buf.String(), "HTTP response sent")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTimeoutSkip(t *testing.T) {
	var deadline bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	})
	skip := func(r *http.Request) bool { return r.URL.Path == "/watch" }
	handler := Timeout(time.Second, skip)(next)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.True(t, deadline)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/watch", nil))
	assert.False(t, deadline)
}

func TestIsWebSocketUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
	assert.False(t, IsWebSocketUpgrade(req))

	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")
	assert.True(t, IsWebSocketUpgrade(req))
}
