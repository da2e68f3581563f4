package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/proxichat/internal/core"
	"github.com/vovakirdan/proxichat/internal/metrics"
	"github.com/vovakirdan/proxichat/internal/store"
)

// FailureKind classifies why a credential did not resolve to a user.
type FailureKind string

const (
	FailureMissing        FailureKind = "missing"
	FailureMalformed      FailureKind = "malformed"
	FailureBadSignature   FailureKind = "bad_signature"
	FailureExpired        FailureKind = "expired"
	FailureInvalidClaims  FailureKind = "invalid_claims"
	FailureUnknownSubject FailureKind = "unknown_subject"
	FailureLookup         FailureKind = "lookup_error"
)

// AuthenticationError is returned by Authenticate. It matches core.ErrAuthentication.
type AuthenticationError struct {
	Kind FailureKind
	Err  error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authentication failure: %s", e.Kind)
	}
	return fmt.Sprintf("authentication failure: %s: %v", e.Kind, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func (e *AuthenticationError) Is(target error) bool {
	return target == core.ErrAuthentication
}

// UserLookup is the slice of the user store the resolver needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
}

// Resolver validates bearer tokens and loads the user they name.
type Resolver struct {
	cfg     *JWTConfig
	users   UserLookup
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

var _ core.IdentityResolver = (*Resolver)(nil)

// NewResolver creates a token resolver.
func NewResolver(cfg *JWTConfig, users UserLookup, logger *zerolog.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Resolver{cfg: cfg, users: users, log: logger, metrics: m}
}

// Authenticate resolves a token to the identity of an existing user.
func (r *Resolver) Authenticate(ctx context.Context, token string) (core.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return core.Anonymous, &AuthenticationError{Kind: FailureMissing}
	}

	claims, err := ValidateToken(r.cfg, token)
	if err != nil {
		return core.Anonymous, &AuthenticationError{Kind: classify(err), Err: err}
	}

	user, err := r.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.Anonymous, &AuthenticationError{Kind: FailureUnknownSubject, Err: err}
		}
		return core.Anonymous, &AuthenticationError{Kind: FailureLookup, Err: err}
	}

	return core.IdentityFromUser(user), nil
}

// Resolve never fails: any problem with the token yields core.Anonymous.
func (r *Resolver) Resolve(ctx context.Context, token string) core.Identity {
	id, err := r.Authenticate(ctx, token)
	if err != nil {
		var authErr *AuthenticationError
		kind := FailureMalformed
		if errors.As(err, &authErr) {
			kind = authErr.Kind
		}
		r.metrics.AuthenticationFailed(string(kind))
		r.log.Debug().Err(err).Str("kind", string(kind)).Msg("token resolved to anonymous")
		return core.Anonymous
	}
	return id
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return FailureExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return FailureBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return FailureMalformed
	case errors.Is(err, jwt.ErrTokenInvalidClaims),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return FailureInvalidClaims
	default:
		return FailureMalformed
	}
}
