package httpapi

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/arogya-health/consult/internal/consult"
	"github.com/arogya-health/consult/internal/langmeta"
	"github.com/arogya-health/consult/internal/protocol"
)

// wsTransport adapts a websocket connection to the session transport.
// Writes are serialized; gorilla connections allow one concurrent writer.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) Send(resp protocol.Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteJSON(resp)
}

func (s *Server) handleConsultationWS(w http.ResponseWriter, r *http.Request) {
	consultationID := chi.URLParam(r, "consultationID")
	if consultationID == "" {
		respondError(w, http.StatusBadRequest, "missing_consultation_id", "consultation id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	transport := &wsTransport{conn: conn}
	_, err = s.manager.Connect(r.Context(), transport, consultationID, s.callerPrefs(r))
	if err != nil {
		code := "connect_failed"
		if errors.Is(err, consult.ErrUnsupportedLanguage) {
			code = "unsupported_language"
		}
		_ = transport.Send(protocol.Response{
			Type:     protocol.TypeError,
			Content:  "Connection failed",
			Language: protocol.Language{Code: langmeta.BaseLanguage, Name: langmeta.Name(langmeta.BaseLanguage)},
			Metadata: protocol.ResponseMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		})
		log.Printf("ws connect rejected: consultation=%s code=%s: %v", consultationID, code, err)
		return
	}
	defer s.manager.Disconnect(r.Context(), consultationID)

	conn.SetReadLimit(int64(s.cfg.MaxMessageSize) * 2)

	// Frames for one session are consumed and processed serially; the next
	// read does not start until ProcessMessage returns.
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
			_ = transport.Send(protocol.Response{
				Type:     protocol.TypeError,
				Content:  "Invalid message format",
				Language: protocol.Language{Code: langmeta.BaseLanguage, Name: langmeta.Name(langmeta.BaseLanguage)},
				Metadata: protocol.ResponseMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
			})
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(msg.Type)).Inc()

		if err := s.manager.ProcessMessage(r.Context(), consultationID, msg); err != nil {
			if errors.Is(err, consult.ErrSessionNotFound) {
				break
			}
			log.Printf("ws process failed: consultation=%s: %v", consultationID, err)
		}
	}
}
