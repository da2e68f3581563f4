package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vovakirdan/proxichat/internal/proto"
	"github.com/vovakirdan/proxichat/internal/store"
)

// Envelope is what a fanout carries to every joined session.
// It is also the payload relayed between instances, hence the JSON tags.
type Envelope struct {
	Type            string          `json:"type"`
	ChatID          string          `json:"chat_id"`
	StoredID        int64           `json:"stored_id"`
	Message         string          `json:"message"`
	Sender          string          `json:"sender"`
	SenderUsername  string          `json:"sender_username"`
	ClientMessageID json.RawMessage `json:"client_message_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewChatMessageEnvelope wraps a persisted message for fanout.
func NewChatMessageEnvelope(msg *store.ChatMessage, sender Identity, clientMessageID json.RawMessage) *Envelope {
	return &Envelope{
		Type:            proto.EventChatMessage,
		ChatID:          msg.ChatID,
		StoredID:        msg.ID,
		Message:         msg.Body,
		Sender:          sender.ID,
		SenderUsername:  sender.DisplayName(),
		ClientMessageID: clientMessageID,
		CreatedAt:       msg.CreatedAt,
	}
}

// ParseFrame decodes an inbound client frame.
// A JSON null messageId is treated as absent.
func ParseFrame(data []byte) (proto.Inbound, error) {
	var in proto.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return proto.Inbound{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if bytes.Equal(bytes.TrimSpace(in.MessageID), []byte("null")) {
		in.MessageID = nil
	}
	return in, nil
}

// EncodeOutbound serializes an envelope into the client frame.
func EncodeOutbound(env *Envelope) ([]byte, error) {
	username := env.SenderUsername
	if username == "" {
		username = env.Sender
	}
	return json.Marshal(proto.Outbound{
		Message:        env.Message,
		Sender:         env.Sender,
		SenderUsername: username,
		MessageID:      env.ClientMessageID,
	})
}
