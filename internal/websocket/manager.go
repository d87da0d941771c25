package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"inkscribe-server/internal/domain"
	"inkscribe-server/internal/session"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager tracks the views connected to each session.
type Manager struct {
	clients           map[string]*Client
	sessionIndex      map[string]map[string]bool
	clientsMutex      sync.RWMutex
	Register          chan *Client
	Unregister        chan *Client
	HandleMessage     chan *ClientMessage
	maxConnPerSession int
	writeWait         time.Duration
	pongWait          time.Duration
	pingPeriod        time.Duration
	maxMessageSize    int64
	messageHandler    MessageHandler
	logger            *slog.Logger
	done              chan struct{}
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

func NewManager(maxConnPerSession int, writeWait, pongWait, pingPeriod time.Duration, maxMessageSize int64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients:           make(map[string]*Client),
		sessionIndex:      make(map[string]map[string]bool),
		Register:          make(chan *Client),
		Unregister:        make(chan *Client),
		HandleMessage:     make(chan *ClientMessage),
		maxConnPerSession: maxConnPerSession,
		writeWait:         writeWait,
		pongWait:          pongWait,
		pingPeriod:        pingPeriod,
		maxMessageSize:    maxMessageSize,
		logger:            logger.With("component", "websocket"),
		done:              make(chan struct{}),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run serves registrations and inbound messages until ctx is done, then
// disconnects every client.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return nil

		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

// unregister hands client to Run, or drops it once Run has stopped.
func (m *Manager) unregister(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
	}
}

func (m *Manager) dispatch(msg *ClientMessage) bool {
	select {
	case m.HandleMessage <- msg:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.sessionIndex[client.SessionID] == nil {
		m.sessionIndex[client.SessionID] = make(map[string]bool)
	}

	if m.maxConnPerSession > 0 && len(m.sessionIndex[client.SessionID]) >= m.maxConnPerSession {
		m.logger.Warn("max connections reached for session", "session_id", client.SessionID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.sessionIndex[client.SessionID][client.ID] = true

	m.logger.Info("client registered", "client_id", client.ID, "session_id", client.SessionID, "user_id", client.UserID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	m.removeLocked(client)
}

func (m *Manager) removeLocked(client *Client) {
	if _, ok := m.clients[client.ID]; !ok {
		return
	}
	delete(m.clients, client.ID)
	delete(m.sessionIndex[client.SessionID], client.ID)
	if len(m.sessionIndex[client.SessionID]) == 0 {
		delete(m.sessionIndex, client.SessionID)
	}
	close(client.Send)
	m.logger.Info("client unregistered", "client_id", client.ID)
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	for _, client := range m.clients {
		m.removeLocked(client)
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.logger.Debug("error unmarshaling message", "error", err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			m.logger.Warn("error handling message", "type", msg.Type, "error", err)
		}
	}
}

// BroadcastToSession sends message to every view of sessionID. Clients
// whose buffer is full are disconnected.
func (m *Manager) BroadcastToSession(sessionID string, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	var slow []*Client
	m.clientsMutex.RLock()
	for clientID := range m.sessionIndex[sessionID] {
		client := m.clients[clientID]
		select {
		case client.Send <- messageBytes:
		default:
			slow = append(slow, client)
		}
	}
	m.clientsMutex.RUnlock()

	if len(slow) > 0 {
		m.clientsMutex.Lock()
		for _, client := range slow {
			m.logger.Warn("client send buffer full, closing connection", "client_id", client.ID)
			m.removeLocked(client)
		}
		m.clientsMutex.Unlock()
	}
	return nil
}

func (m *Manager) SendToClient(client *Client, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	if _, ok := m.clients[client.ID]; !ok {
		return nil
	}
	select {
	case client.Send <- messageBytes:
	default:
		m.logger.Warn("client send buffer full", "client_id", client.ID)
	}
	return nil
}

func (m *Manager) SessionConnections(sessionID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.sessionIndex[sessionID])
}

// NotesChanged pushes a session's full sorted list.
func (m *Manager) NotesChanged(sessionID string, notes []domain.Note) {
	if notes == nil {
		notes = []domain.Note{}
	}
	msg, err := NewMessage(TypeNotes, NotesPayload{SessionID: sessionID, Notes: notes})
	if err != nil {
		m.logger.Warn("failed to encode notes message", "session_id", sessionID, "error", err)
		return
	}
	if err := m.BroadcastToSession(sessionID, msg); err != nil {
		m.logger.Warn("failed to push notes", "session_id", sessionID, "error", err)
	}
}

func (m *Manager) Notice(sessionID string, kind session.NoticeKind, message string) {
	msg, err := NewMessage(TypeNotice, NoticePayload{Kind: string(kind), Message: message})
	if err != nil {
		return
	}
	if err := m.BroadcastToSession(sessionID, msg); err != nil {
		m.logger.Warn("failed to push notice", "session_id", sessionID, "error", err)
	}
}

var _ session.Notifier = (*Manager)(nil)
