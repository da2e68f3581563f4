package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/proxichat/internal/metrics"
	"github.com/vovakirdan/proxichat/internal/store"
)

// MessageAppender is the write side of the message store the sessions need.
type MessageAppender interface {
	AppendMessage(ctx context.Context, chatID string, senderID int64, body string) (*store.ChatMessage, error)
}

// Options tunes per-session behavior.
type Options struct {
	SessionBuffer      int
	RateLimitPerMinute int
	// BroadcastTimeout bounds a fanout that leaves the process (relay publish).
	BroadcastTimeout time.Duration
}

// Deps are the collaborators of the chat service.
type Deps struct {
	Resolver  IdentityResolver
	Authority *Authority
	Messages  MessageAppender
	Registry  *Registry
	// Broadcaster defaults to Registry.
	Broadcaster Broadcaster
	Pool        *Pool
	Metrics     *metrics.Metrics
	Logger      *zerolog.Logger
}

// Service drives chat sessions through Connecting, Authorizing, Joined and Closed.
type Service struct {
	resolver    IdentityResolver
	authority   *Authority
	messages    MessageAppender
	registry    *Registry
	broadcaster Broadcaster
	pool        *Pool
	metrics     *metrics.Metrics
	log         *zerolog.Logger
	opts        Options
}

// NewService wires the chat service.
func NewService(deps Deps, opts Options) *Service {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = deps.Registry
	}
	if deps.Pool == nil {
		deps.Pool = NewPool(1, 0)
	}
	if opts.BroadcastTimeout <= 0 {
		opts.BroadcastTimeout = 5 * time.Second
	}
	return &Service{
		resolver:    deps.Resolver,
		authority:   deps.Authority,
		messages:    deps.Messages,
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		pool:        deps.Pool,
		metrics:     deps.Metrics,
		log:         deps.Logger,
		opts:        opts,
	}
}

// Registry returns the local group registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Open runs the handshake half of the lifecycle: resolve the credential, check membership, join.
// On success the session is Joined and the caller must complete the transport handshake,
// then call Serve. On failure the session is already Closed and was never joined.
func (s *Service) Open(ctx context.Context, chatID, token, remoteAddr string) (*Session, error) {
	sess := NewSession(chatID, s.opts.SessionBuffer)
	sess.RemoteAddr = remoteAddr
	sess.advance(StateConnecting, StateAuthorizing)

	identity, err := Run(ctx, s.pool, func(ctx context.Context) (Identity, error) {
		return s.resolver.Resolve(ctx, token), nil
	})
	if err != nil || identity.IsAnonymous() {
		sess.Close(ErrAuthentication)
		s.metrics.ConnectionRefused(CodeAuthentication)
		s.log.Debug().Str("chat_id", chatID).Str("remote_addr", remoteAddr).Msg("connection refused: anonymous")
		return nil, ErrAuthentication
	}
	sess.Identity = identity
	sess.log = s.log.With().
		Str("session_id", sess.ID).
		Str("chat_id", chatID).
		Str("user_id", identity.ID).
		Logger()

	var allowed bool
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		allowed = s.authority.IsMember(ctx, chatID, identity)
		return nil
	})
	if err != nil || !allowed {
		sess.Close(ErrAuthorization)
		s.metrics.ConnectionRefused(CodeAuthorization)
		sess.log.Warn().Str("remote_addr", remoteAddr).Msg("connection refused: not a participant")
		return nil, ErrAuthorization
	}

	if err := s.registry.Join(chatID, sess); err != nil {
		sess.Close(err)
		s.metrics.ConnectionRefused(Code(err))
		return nil, err
	}
	if !sess.advance(StateAuthorizing, StateJoined) {
		// Closed between join and transition, e.g. registry shutdown.
		s.Close(sess)
		return nil, ErrShutdown
	}
	sess.counted.Store(true)
	s.metrics.SessionJoined()
	sess.log.Info().Msg("session joined")

	return sess, nil
}

// Close ends a session and leaves its chat. It is safe to call more than once
// and in any state; leave is unconditional.
func (s *Service) Close(sess *Session) {
	sess.Close(nil)
	s.registry.Leave(sess.ChatID, sess)
	if sess.counted.CompareAndSwap(true, false) {
		s.metrics.SessionLeft()
		sess.log.Info().Str("cause", Code(sess.Err())).Msg("session closed")
	}
}

// Serve runs the read and write loops of a joined session until the transport fails,
// the session closes or ctx is cancelled. The session is closed and has left its chat on return.
func (s *Service) Serve(ctx context.Context, sess *Session, t Transport) error {
	defer s.Close(sess)

	if sess.State() != StateJoined {
		if err := sess.Err(); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return fmt.Errorf("serve %s: %w", sess.State(), ErrSessionClosed)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.readLoop(gctx, sess, t)
	})
	g.Go(func() error {
		return s.writeLoop(gctx, sess, t)
	})

	err := g.Wait()
	sess.Close(err)
	return err
}

func (s *Service) readLoop(ctx context.Context, sess *Session, t Transport) error {
	limiter := newRateLimiter(s.opts.RateLimitPerMinute)
	for {
		data, err := t.Read(ctx)
		if err != nil {
			return err
		}
		if !limiter.allow() {
			s.metrics.FrameDropped(CodeRateLimited)
			sess.log.Warn().Msg("inbound frame dropped: rate limited")
			continue
		}
		s.HandleFrame(ctx, sess, data)
	}
}

func (s *Service) writeLoop(ctx context.Context, sess *Session, t Transport) error {
	for {
		select {
		case env := <-sess.Outbound():
			data, err := EncodeOutbound(env)
			if err != nil {
				sess.log.Error().Err(err).Msg("encode outbound frame")
				continue
			}
			if err := t.Write(ctx, data); err != nil {
				s.metrics.DeliveryFailed()
				return fmt.Errorf("%w: %v", ErrDelivery, err)
			}
			s.metrics.FrameDelivered()
		case <-sess.Done():
			if err := sess.Err(); err != nil {
				return err
			}
			return ErrSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleFrame processes one inbound frame of a joined session: validate, append, fan out.
// Invalid frames are dropped without a reply. Once a message is accepted, append and fanout
// run to completion even if the connection goes away.
func (s *Service) HandleFrame(ctx context.Context, sess *Session, data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		s.metrics.FrameDropped(CodeMalformedInput)
		sess.log.Warn().Err(err).Msg("inbound frame dropped: not parseable")
		return
	}
	if frame.Message == "" {
		s.metrics.FrameDropped(CodeEmptyMessage)
		sess.log.Warn().Msg("inbound frame dropped: empty message")
		return
	}

	senderID, err := sess.Identity.Key()
	if err != nil {
		sess.log.Error().Err(err).Msg("joined session without a store key")
		sess.Close(ErrAuthorization)
		return
	}

	actx := context.WithoutCancel(ctx)

	msg, err := Run(actx, s.pool, func(ctx context.Context) (*store.ChatMessage, error) {
		return s.messages.AppendMessage(ctx, sess.ChatID, senderID, frame.Message)
	})
	if err != nil {
		// Policy: keep the session open, do not broadcast, send nothing back.
		s.metrics.StoreError()
		sess.log.Error().Err(errors.Join(ErrStoreUnavailable, err)).Msg("append message failed")
		return
	}
	s.metrics.MessageAppended()

	env := NewChatMessageEnvelope(msg, sess.Identity, frame.MessageID)

	bctx, cancel := context.WithTimeout(actx, s.opts.BroadcastTimeout)
	defer cancel()
	if err := s.broadcaster.Broadcast(bctx, sess.ChatID, env); err != nil {
		sess.log.Error().Err(err).Int64("message_id", msg.ID).Msg("broadcast failed after append")
	}
}
