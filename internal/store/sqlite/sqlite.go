package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/proxichat/internal/store"
)

// Schema is the DDL applied by Migrate.
//
//go:embed schema.sql
var Schema string

const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema and seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also serializes appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the schema. Statements are idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== ChatStore implementation ====

// CreateChat creates a chat with the given participants.
func (s *SQLiteStore) CreateChat(ctx context.Context, participantIDs []int64) (*store.Chat, error) {
	ids := distinct(participantIDs)
	if len(ids) < 2 {
		return nil, store.ErrInvalidParticipants
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	chatID, err := insertChat(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetChat(ctx, chatID)
}

// FindOrCreateDirectChat returns the chat whose participant set is exactly {userID, otherID}.
// The boolean reports whether a new chat was created.
func (s *SQLiteStore) FindOrCreateDirectChat(ctx context.Context, userID, otherID int64) (*store.Chat, bool, error) {
	if userID == otherID {
		return nil, false, store.ErrInvalidParticipants
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `
		SELECT a.chat_id
		FROM chat_participants a
		JOIN chat_participants b ON a.chat_id = b.chat_id
		WHERE a.user_id = ? AND b.user_id = ?
		  AND (SELECT COUNT(*) FROM chat_participants c WHERE c.chat_id = a.chat_id) = 2
		LIMIT 1
	`
	var chatID string
	created := false
	err = tx.QueryRowContext(ctx, query, userID, otherID).Scan(&chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		chatID, err = insertChat(ctx, tx, []int64{userID, otherID})
		if err != nil {
			return nil, false, err
		}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("query direct chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}

	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	return chat, created, nil
}

func insertChat(ctx context.Context, tx *sql.Tx, ids []int64) (string, error) {
	chatID := uuid.NewString()
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, last_message, created_at, updated_at)
		VALUES (?, '', ?, ?)
	`, chatID, now, now); err != nil {
		return "", fmt.Errorf("insert chat: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id)
			VALUES (?, ?)
		`, chatID, id); err != nil {
			return "", fmt.Errorf("insert participant %d: %w", id, err)
		}
	}
	return chatID, nil
}

// GetChat retrieves a chat with its participants.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	query := `
		SELECT id, last_message, created_at, updated_at
		FROM chats
		WHERE id = ?
	`
	var chat store.Chat
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(
		&chat.ID,
		&chat.LastMessage,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", chatID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}

	participants, err := s.listParticipants(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	chat.Participants = participants

	return &chat, nil
}

// ListChats lists chats the user participates in, most recently updated first.
func (s *SQLiteStore) ListChats(ctx context.Context, userID int64) ([]*store.Chat, error) {
	query := `
		SELECT c.id, c.last_message, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}

	var chats []*store.Chat
	for rows.Next() {
		var chat store.Chat
		if err := rows.Scan(&chat.ID, &chat.LastMessage, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, &chat)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	// Release the single connection before issuing the participant queries.
	rows.Close()

	for _, chat := range chats {
		participants, err := s.listParticipants(ctx, chat.ID)
		if err != nil {
			return nil, err
		}
		chat.Participants = participants
	}

	return chats, nil
}

func (s *SQLiteStore) listParticipants(ctx context.Context, chatID string) ([]store.Participant, error) {
	query := `
		SELECT p.user_id, u.username, p.unread, p.blocked
		FROM chat_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.chat_id = ?
		ORDER BY p.user_id
	`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []store.Participant
	for rows.Next() {
		var p store.Participant
		if err := rows.Scan(&p.UserID, &p.Username, &p.Unread, &p.Blocked); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// IsParticipant checks if user is a participant of the chat.
func (s *SQLiteStore) IsParticipant(ctx context.Context, chatID string, userID int64) (bool, error) {
	query := `
		SELECT 1 FROM chat_participants
		WHERE chat_id = ? AND user_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}

	return true, nil
}

// MarkRead clears the user's unread flag in the chat.
func (s *SQLiteStore) MarkRead(ctx context.Context, chatID string, userID int64) error {
	query := `
		UPDATE chat_participants SET unread = 0
		WHERE chat_id = ? AND user_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, chatID, userID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

// AppendMessage persists a message and advances the chat's denormalized fields in one transaction.
// created_at is taken inside the transaction and never precedes the chat's updated_at,
// so timestamp order and id order agree within a chat.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID string, senderID int64, body string) (*store.ChatMessage, error) {
	if body == "" {
		return nil, store.ErrEmptyBody
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	var updatedAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT updated_at FROM chats WHERE id = ?`, chatID).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", chatID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}

	now := time.Now().UTC()
	if now.Before(updatedAt) {
		now = updatedAt.UTC()
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (chat_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?)
	`, chatID, senderID, body, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET last_message = ?, updated_at = ?
		WHERE id = ?
	`, body, now, chatID); err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chat_participants SET unread = 1
		WHERE chat_id = ? AND user_id <> ?
	`, chatID, senderID); err != nil {
		return nil, fmt.Errorf("flag unread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &store.ChatMessage{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: now,
	}, nil
}

// ListMessages retrieves messages from a chat, newest first, with pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int, beforeID *int64) ([]*store.ChatMessage, error) {
	var query string
	var args []interface{}

	if beforeID != nil {
		query = `
			SELECT id, chat_id, sender_id, body, created_at
			FROM chat_messages
			WHERE chat_id = ? AND id < ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`
		args = []interface{}{chatID, *beforeID, limit}
	} else {
		query = `
			SELECT id, chat_id, sender_id, body, created_at
			FROM chat_messages
			WHERE chat_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`
		args = []interface{}{chatID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.ChatMessage
	for rows.Next() {
		var msg store.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

func distinct(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
