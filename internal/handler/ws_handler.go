package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"inkscribe-server/internal/domain"
	"inkscribe-server/internal/session"
	"inkscribe-server/internal/websocket"
	"inkscribe-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	sessions  *session.Manager
	jwtSecret string
	upgrader  ws.Upgrader
	logger    *slog.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, sessions *session.Manager, jwtSecret string, readBufferSize, writeBufferSize int, checkOrigin func(r *http.Request) bool, logger *slog.Logger) *WebSocketHandler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WebSocketHandler{
		manager:   manager,
		sessions:  sessions,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// HandleConnection attaches a view to an existing session. Browsers cannot
// set headers on websocket requests, so the token may come as a query
// parameter.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateAccessToken(token, h.jwtSecret)
	if err != nil {
		h.logger.Debug("websocket token rejected", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	sess, err := h.sessions.GetFor(r.URL.Query().Get("session_id"), claims.UserID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", sess.ID, "error", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), claims.UserID, sess.ID, conn, h.manager)

	// Queued ahead of registration so the view starts from the current list.
	if initial, err := json.Marshal(notesMessage(sess)); err == nil {
		client.Send <- initial
	}

	if !client.Connect() {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func notesMessage(sess *session.Session) *websocket.Message {
	notes := sess.Store().List()
	if notes == nil {
		notes = []domain.Note{}
	}
	msg, _ := websocket.NewMessage(websocket.TypeNotes, websocket.NotesPayload{SessionID: sess.ID, Notes: notes})
	return msg
}

type WebSocketMessageHandler struct {
	manager  *websocket.Manager
	sessions *session.Manager
	logger   *slog.Logger
}

func NewWebSocketMessageHandler(manager *websocket.Manager, sessions *session.Manager, logger *slog.Logger) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{manager: manager, sessions: sessions, logger: logger}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypePing:
		pong, err := websocket.NewMessage(websocket.TypePong, nil)
		if err != nil {
			return err
		}
		return h.manager.SendToClient(client, pong)

	case websocket.TypeNotesRequest:
		sess, err := h.sessions.Get(client.SessionID)
		if err != nil {
			return err
		}
		return h.manager.SendToClient(client, notesMessage(sess))

	default:
		h.logger.Debug("unknown websocket message type", "type", msg.Type)
	}

	return nil
}
