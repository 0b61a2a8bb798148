package server

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/session_manager"
)

// Routes kept for the original browser dashboard.

type checkQRResponse struct {
	Ready bool   `json:"ready"`
	QRURL string `json:"qrUrl,omitempty"`
}

// handleStartSession creates the session if absent. Form posts are redirected
// to /qr/{id}; JSON callers get the id back.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	form := isFormPost(r)

	var id string
	if form {
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			s.writeError(w, r, fmt.Errorf("%w: invalid form: %v", errBadRequest, err))
			return
		}
		id = r.PostFormValue("sessionId")
	} else {
		var req createSessionRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		id = req.SessionID
	}

	id = strings.TrimSpace(id)
	if id == "" {
		s.writeError(w, r, fmt.Errorf("%w: sessionId is required", session_manager.ErrInvalidSessionID))
		return
	}

	id, _, err := s.createIfAbsent(r, id, session_manager.ConfigPatch{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if form {
		http.Redirect(w, r, "/qr/"+url.PathEscape(id), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

// handleCheckQR reports whether a link challenge is available. "ready" refers
// to the QR code, not the session.
func (s *Server) handleCheckQR(w http.ResponseWriter, r *http.Request) {
	summary, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Session not found"))
		return
	}
	if summary.LinkPayload == "" {
		writeJSON(w, http.StatusOK, checkQRResponse{Ready: false})
		return
	}
	writeJSON(w, http.StatusOK, checkQRResponse{Ready: true, QRURL: summary.LinkPayload})
}

func (s *Server) handleQRPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": chi.URLParam(r, "id")})
}

func isFormPost(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}
