package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is a step of the session lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthorizing
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport is the per-connection byte pipe a session is served over.
type Transport interface {
	// Read blocks until the next inbound frame.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one outbound frame.
	Write(ctx context.Context, data []byte) error
}

// Subscriber is a registry member able to receive fanout envelopes.
type Subscriber interface {
	Deliver(env *Envelope) error
	Close(cause error)
}

// Session is one live connection bound to one chat and one identity.
type Session struct {
	ID         string
	ChatID     string
	Identity   Identity
	RemoteAddr string

	state    atomic.Int32
	counted  atomic.Bool
	outbound chan *Envelope
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	cause     error

	log zerolog.Logger
}

// NewSession creates a session in the Connecting state.
func NewSession(chatID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		outbound: make(chan *Envelope, buffer),
		done:     make(chan struct{}),
		log:      zerolog.Nop(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// advance moves from one state to the next. It fails if the session is elsewhere,
// most notably if it was closed concurrently.
func (s *Session) advance(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Deliver enqueues an envelope without blocking. A full queue closes the session.
func (s *Session) Deliver(env *Envelope) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outbound <- env:
		return nil
	default:
		err := fmt.Errorf("%w: outbound queue full", ErrDelivery)
		s.Close(err)
		return err
	}
}

// Close moves the session to Closed. Only the first cause is kept.
func (s *Session) Close(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cause = cause
		s.mu.Unlock()
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session closed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Outbound exposes queued envelopes to the write loop.
func (s *Session) Outbound() <-chan *Envelope {
	return s.outbound
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (chat %s, user %s)", s.ID, s.ChatID, s.Identity.ID)
}
