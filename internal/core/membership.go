package core

import (
	"context"

	"github.com/rs/zerolog"
)

// ParticipantChecker is the read side of the chat store the authority needs.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, chatID string, userID int64) (bool, error)
}

// Authority decides whether an identity may take part in a chat.
type Authority struct {
	checker ParticipantChecker
	log     *zerolog.Logger
}

// NewAuthority creates a membership authority backed by the store.
func NewAuthority(checker ParticipantChecker, logger *zerolog.Logger) *Authority {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Authority{checker: checker, log: logger}
}

// IsMember fails closed: anonymous identities, ids that are not store keys,
// unknown chats and store errors all answer false.
func (a *Authority) IsMember(ctx context.Context, chatID string, id Identity) bool {
	if id.IsAnonymous() {
		return false
	}

	userID, err := id.Key()
	if err != nil {
		a.log.Warn().Err(err).Str("chat_id", chatID).Msg("identity is not a store key")
		return false
	}

	ok, err := a.checker.IsParticipant(ctx, chatID, userID)
	if err != nil {
		a.log.Error().Err(err).Str("chat_id", chatID).Int64("user_id", userID).Msg("membership check failed")
		return false
	}
	return ok
}
