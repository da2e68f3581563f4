package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidParticipants is returned when a chat would have fewer than two distinct participants.
	ErrInvalidParticipants = errors.New("chat needs at least two distinct participants")
	// ErrEmptyBody is returned when appending a message without text.
	ErrEmptyBody = errors.New("message body is empty")
)

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Participant is a user's membership in a chat together with its per-user flags.
type Participant struct {
	UserID   int64
	Username string
	Unread   bool
	Blocked  bool
}

// Chat represents a conversation between a fixed set of participants.
type Chat struct {
	ID           string
	Participants []Participant
	LastMessage  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChatMessage represents a persisted, immutable chat message.
type ChatMessage struct {
	ID        int64
	ChatID    string
	SenderID  int64
	Body      string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// ChatStore handles conversations and their participant sets.
type ChatStore interface {
	// CreateChat creates a chat with the given participants (deduplicated, at least two).
	CreateChat(ctx context.Context, participantIDs []int64) (*Chat, error)

	// FindOrCreateDirectChat returns the chat shared by exactly these two users, creating it if needed.
	FindOrCreateDirectChat(ctx context.Context, userID, otherID int64) (*Chat, bool, error)

	// GetChat retrieves a chat with its participants.
	GetChat(ctx context.Context, chatID string) (*Chat, error)

	// ListChats lists chats the user participates in, most recently updated first.
	ListChats(ctx context.Context, userID int64) ([]*Chat, error)

	// IsParticipant reports whether the user belongs to the chat. Unknown chats yield false.
	IsParticipant(ctx context.Context, chatID string, userID int64) (bool, error)

	// MarkRead clears the user's unread flag in the chat.
	MarkRead(ctx context.Context, chatID string, userID int64) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// AppendMessage persists a message and advances the chat's last_message and updated_at.
	AppendMessage(ctx context.Context, chatID string, senderID int64, body string) (*ChatMessage, error)

	// ListMessages returns messages of a chat newest-first.
	// If beforeID is provided, returns messages older than that ID.
	ListMessages(ctx context.Context, chatID string, limit int, beforeID *int64) ([]*ChatMessage, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
