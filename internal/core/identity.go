package core

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vovakirdan/proxichat/internal/store"
)

// Identity is an authenticated principal. The zero value is the anonymous sentinel.
type Identity struct {
	ID       string
	Username string
}

// Anonymous is the identity of a connection without a valid credential.
var Anonymous = Identity{}

// IdentityFromUser builds an identity for a stored user.
func IdentityFromUser(u *store.User) Identity {
	return Identity{ID: strconv.FormatInt(u.ID, 10), Username: u.Username}
}

// IsAnonymous reports whether this is the anonymous sentinel.
func (i Identity) IsAnonymous() bool {
	return i.ID == ""
}

// DisplayName returns the username, falling back to the id.
func (i Identity) DisplayName() string {
	if i.Username != "" {
		return i.Username
	}
	return i.ID
}

// Key normalizes the identity id to the store's user key.
func (i Identity) Key() (int64, error) {
	if i.IsAnonymous() {
		return 0, ErrAuthentication
	}
	id, err := strconv.ParseInt(i.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("identity %q: %w", i.ID, err)
	}
	return id, nil
}

// IdentityResolver turns a bearer credential into an identity.
// Implementations never fail: invalid credentials resolve to Anonymous.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) Identity
}
