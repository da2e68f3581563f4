package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/proxichat/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ChatHandlers provides HTTP handlers for chat listing, pokes and history.
type ChatHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(st store.Store, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		store: st,
		log:   logger,
	}
}

// ParticipantResponse represents a chat participant in API responses.
type ParticipantResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Blocked  bool   `json:"blocked"`
}

// ChatResponse represents a chat in API responses.
type ChatResponse struct {
	ID           string                `json:"id"`
	Participants []ParticipantResponse `json:"participants"`
	LastMessage  string                `json:"last_message"`
	Unread       bool                  `json:"unread"`
	CreatedAt    string                `json:"created_at"`
	UpdatedAt    string                `json:"updated_at"`
}

// PokeRequest represents the poke request body.
type PokeRequest struct {
	TargetID int64 `json:"target_id" binding:"required"`
}

// PokeResponse is returned by a poke.
type PokeResponse struct {
	Message string `json:"message"`
	ChatID  string `json:"chat_id"`
	Created bool   `json:"created"`
}

// MessageResponse represents a stored chat message in API responses.
type MessageResponse struct {
	ID             int64  `json:"id"`
	ChatID         string `json:"chat_id"`
	Sender         string `json:"sender"`
	SenderUsername string `json:"sender_username"`
	Message        string `json:"message"`
	CreatedAt      string `json:"created_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func chatResponse(chat *store.Chat, viewer int64) ChatResponse {
	me, _ := lo.Find(chat.Participants, func(p store.Participant) bool { return p.UserID == viewer })
	return ChatResponse{
		ID: chat.ID,
		Participants: lo.Map(chat.Participants, func(p store.Participant, _ int) ParticipantResponse {
			return ParticipantResponse{ID: p.UserID, Username: p.Username, Blocked: p.Blocked}
		}),
		LastMessage: chat.LastMessage,
		Unread:      me.Unread,
		CreatedAt:   formatTime(chat.CreatedAt),
		UpdatedAt:   formatTime(chat.UpdatedAt),
	}
}

// ListChats handles listing the caller's chats, most recently active first.
// GET /api/chats
func (h *ChatHandlers) ListChats(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		h.log.Error().Msg("user_id not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chats, err := h.store.ListChats(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list chats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := lo.Map(chats, func(chat *store.Chat, _ int) ChatResponse {
		return chatResponse(chat, uid)
	})

	h.log.Debug().Int64("user_id", uid).Int("chat_count", len(chats)).Msg("chats listed successfully")
	c.JSON(http.StatusOK, response)
}

// Poke finds or creates the direct chat between the caller and the target.
// POST /api/chats/poke
func (h *ChatHandlers) Poke(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req PokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "target_id is required"})
		return
	}
	if req.TargetID == uid {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot poke yourself"})
		return
	}

	ctx := c.Request.Context()
	target, err := h.store.GetUserByID(ctx, req.TargetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "target user not found"})
			return
		}
		h.log.Error().Err(err).Int64("target_id", req.TargetID).Msg("failed to load poke target")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	chat, created, err := h.store.FindOrCreateDirectChat(ctx, uid, target.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Int64("target_id", target.ID).Msg("failed to find or create chat")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	username, _ := c.Get(ContextKeyUsername)
	h.log.Info().
		Int64("user_id", uid).
		Int64("target_id", target.ID).
		Str("chat_id", chat.ID).
		Bool("created", created).
		Msg("poke")
	c.JSON(http.StatusOK, PokeResponse{
		Message: fmt.Sprintf("%v poked %s", username, target.Username),
		ChatID:  chat.ID,
		Created: created,
	})
}

// ListMessages returns a chat's history newest-first and clears the caller's unread flag.
// GET /api/chats/:chatID/messages?limit=&before=
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chatID := c.Param("chatID")
	if !chatIDPattern.MatchString(chatID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	var before *int64
	if raw := c.Query("before"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before"})
			return
		}
		before = &id
	}

	ctx := c.Request.Context()
	member, err := h.store.IsParticipant(ctx, chatID, uid)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("membership check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	}

	chat, err := h.store.GetChat(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to load chat")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	names := lo.SliceToMap(chat.Participants, func(p store.Participant) (int64, string) {
		return p.UserID, p.Username
	})

	msgs, err := h.store.ListMessages(ctx, chatID, limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := h.store.MarkRead(ctx, chatID, uid); err != nil {
		h.log.Warn().Err(err).Str("chat_id", chatID).Int64("user_id", uid).Msg("failed to mark chat read")
	}

	c.JSON(http.StatusOK, lo.Map(msgs, func(m *store.ChatMessage, _ int) MessageResponse {
		return MessageResponse{
			ID:             m.ID,
			ChatID:         m.ChatID,
			Sender:         strconv.FormatInt(m.SenderID, 10),
			SenderUsername: names[m.SenderID],
			Message:        m.Body,
			CreatedAt:      formatTime(m.CreatedAt),
		}
	}))
}
