package server

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/httpmiddleware"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// Router builds the HTTP handler with middleware and every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	mw := httpmiddleware.DefaultConfig()
	mw.Logger = s.log
	mw.EnableLogging = true
	mw.Timeout = s.cfg.HTTP.RequestTimeout
	mw.SkipTimeout = skipRequestTimeout
	mw.Extra = append(mw.Extra, s.metrics.HTTPMiddleware())
	security := httpmiddleware.DefaultSecurityOptions(s.cfg.IsDevelopment())
	mw.Security = &security
	if len(s.cfg.HTTP.CORSAllowedOrigins) > 0 {
		mw.CORS.AllowedOrigins = s.cfg.HTTP.CORSAllowedOrigins
	}
	httpmiddleware.ApplyToRouter(r, mw)

	s.health.RegisterHandlers(r)
	if s.cfg.Metrics.Expose {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, s.metrics.Handler())
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Get("/qr", s.handleSessionQR)
			r.Get("/watch", s.handleWatchSession)
			r.Put("/config", s.handleUpdateConfig)
			r.Post("/broadcast", s.handleBroadcast)
			r.Get("/contacts", s.handleContacts)
			r.Get("/chats", s.handleChats)
			r.Get("/chats/{chatId}/messages", s.handleChatMessages)
			r.Post("/messages", s.handleSendMessage)
		})
	})

	r.Post("/start-session", s.handleStartSession)
	r.Get("/check-qr/{id}", s.handleCheckQR)
	r.Get("/qr/{id}", s.handleQRPage)

	s.mountStatic(r)
	return r
}

// skipRequestTimeout exempts long-lived requests from HTTP_REQUEST_TIMEOUT.
// Broadcasts are bounded by BROADCAST_TIMEOUT instead.
func skipRequestTimeout(r *http.Request) bool {
	return httpmiddleware.IsWebSocketUpgrade(r) ||
		(r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/broadcast"))
}

// mountStatic serves HTTP_STATIC_DIR at / when the directory exists.
func (s *Server) mountStatic(r chi.Router) {
	dir := s.cfg.HTTP.StaticDir
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		s.log.Info("Static directory not found, dashboard disabled", logger.StringField("dir", dir))
		return
	}
	r.Handle("/*", http.FileServer(http.Dir(dir)))
}
