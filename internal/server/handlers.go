package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/broadcast"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/session_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

const (
	// maxBodyBytes caps JSON request bodies.
	maxBodyBytes = 1 << 20

	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

var (
	errBadRequest = errors.New("bad request")
	errSendFailed = errors.New("send failed")
)

type createSessionRequest struct {
	SessionID         string  `json:"sessionId"`
	SystemInstruction *string `json:"systemInstruction"`
	AllowGroupReplies *bool   `json:"allowGroupReplies"`
}

type createSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Created   bool   `json:"created"`
}

type sessionResponse struct {
	Success bool                    `json:"success"`
	Session session_manager.Summary `json:"session"`
}

type broadcastRequest struct {
	Message string   `json:"message"`
	Targets []string `json:"targets"`
}

type sendMessageRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, created, err := s.createIfAbsent(r, strings.TrimSpace(req.SessionID), session_manager.ConfigPatch{
		SystemInstruction: req.SystemInstruction,
		AllowGroupReplies: req.AllowGroupReplies,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, createSessionResponse{Success: true, SessionID: id, Created: created})
}

// createIfAbsent creates a session, treating an existing one as success.
func (s *Server) createIfAbsent(r *http.Request, id string, patch session_manager.ConfigPatch) (string, bool, error) {
	id, err := s.registry.Create(r.Context(), id, patch)
	if errors.Is(err, session_manager.ErrAlreadyExists) {
		return id, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": s.registry.List(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	summary, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, Session: summary})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Remove(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleSessionQR serves the pending link challenge as a PNG.
func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	summary, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if summary.LinkPayload == "" {
		s.writeError(w, r, fmt.Errorf("%w: no link challenge pending", session_manager.ErrSessionNotFound))
		return
	}

	png, err := session_manager.DecodeLinkPayload(summary.LinkPayload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch session_manager.ConfigPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.registry.UpdateConfig(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, Session: summary})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	// A fan-out already under way finishes even if the caller goes away.
	ctx := context.WithoutCancel(r.Context())
	if s.cfg.Broadcast.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Broadcast.Timeout)
		defer cancel()
	}

	result, err := s.broadcaster.Broadcast(ctx, chi.URLParam(r, "id"), req.Message, req.Targets)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	conn, err := s.registry.ReadyConnector(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	contacts, err := conn.Contacts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "contacts": contacts})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	conn, err := s.registry.ReadyConnector(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	chats, err := conn.Chats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "chats": chats})
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.registry.ReadyConnector(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	messages, err := conn.ChatMessages(r.Context(), chi.URLParam(r, "chatId"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "messages": messages})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ChatID) == "" || strings.TrimSpace(req.Text) == "" {
		s.writeError(w, r, fmt.Errorf("%w: chatId and text are required", errBadRequest))
		return
	}

	conn, err := s.registry.ReadyConnector(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := conn.SendText(r.Context(), req.ChatID, req.Text); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errSendFailed, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultMessageLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	return limit, nil
}

// decodeJSON reads a JSON body. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session_manager.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session_manager.ErrSessionNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, session_manager.ErrInvalidSessionID),
		errors.Is(err, broadcast.ErrEmptyMessage),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errSendFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), s.log).Error("Request failed",
			logger.HTTPPathField(r.URL.Path),
			logger.ErrorField(err))
	}
	writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
