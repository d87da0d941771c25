package websocket

import (
	"encoding/json"
	"time"

	"inkscribe-server/internal/domain"
)

type MessageType string

const (
	// server -> client
	TypeNotes  MessageType = "notes"
	TypeNotice MessageType = "notice"
	TypePong   MessageType = "pong"

	// client -> server
	TypePing         MessageType = "ping"
	TypeNotesRequest MessageType = "notes_request"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type NotesPayload struct {
	SessionID string        `json:"session_id"`
	Notes     []domain.Note `json:"notes"`
}

type NoticePayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
