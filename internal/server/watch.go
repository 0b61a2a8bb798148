package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

const (
	watchWriteWait  = 10 * time.Second
	watchPongWait   = 60 * time.Second
	watchPingPeriod = watchPongWait * 9 / 10
)

// handleWatchSession streams the session summary over a websocket, sending the
// current summary first and then one message per change. The socket closes
// when the session terminates.
func (s *Server) handleWatchSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updates, cancel, err := s.registry.Watch(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if s.cfg.IsDevelopment() {
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Debug("Websocket upgrade failed", logger.SessionIDField(id), logger.ErrorField(err))
		return
	}
	defer conn.Close()

	log := s.log.WithFields(logger.SessionIDField(id), logger.ComponentField("watch"))
	log.Debug("Watcher connected")

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()

	for {
		select {
		case summary, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session terminated"))
				return
			}
			if err := conn.WriteJSON(summary); err != nil {
				log.Debug("Watcher write failed", logger.ErrorField(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			log.Debug("Watcher disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readUntilClosed drains client frames so control messages are processed and
// closes done when the peer goes away.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(watchPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
