package proto

import "encoding/json"

// EventChatMessage is the only event type fanned out to chat sessions.
const EventChatMessage = "chat_message"

// Inbound is a frame sent by the client over a chat connection.
type Inbound struct {
	Message string `json:"message"`
	// MessageID is an opaque client correlation id echoed back on broadcast.
	MessageID json.RawMessage `json:"messageId,omitempty"`
}

// Outbound is a frame sent to every session joined to a chat.
type Outbound struct {
	Message        string          `json:"message"`
	Sender         string          `json:"sender"`
	SenderUsername string          `json:"sender_username,omitempty"`
	MessageID      json.RawMessage `json:"messageId,omitempty"`
}
