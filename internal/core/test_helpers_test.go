package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/proxichat/internal/store"
)

// fakeTransport is an in-memory Transport. Closing in simulates a client disconnect.
type fakeTransport struct {
	in        chan []byte
	out       chan []byte
	failWrite atomic.Bool
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:  make(chan []byte, 16),
		out: make(chan []byte, 64),
	}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	if f.failWrite.Load() {
		return errors.New("broken pipe")
	}
	select {
	case f.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) send(text string) {
	f.in <- []byte(text)
}

func (f *fakeTransport) disconnect() {
	f.closeOnce.Do(func() { close(f.in) })
}

// tokenResolver resolves tokens from a fixed table.
type tokenResolver map[string]Identity

func (r tokenResolver) Resolve(_ context.Context, token string) Identity {
	if id, ok := r[token]; ok {
		return id
	}
	return Anonymous
}

// memStore is an in-memory participant and message store.
type memStore struct {
	mu           sync.Mutex
	participants map[string]map[int64]bool
	messages     []*store.ChatMessage
	failAppend   bool
	failCheck    bool
	nextID       int64
}

func newMemStore() *memStore {
	return &memStore{participants: make(map[string]map[int64]bool)}
}

func (m *memStore) addChat(chatID string, userIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		set[id] = true
	}
	m.participants[chatID] = set
}

func (m *memStore) IsParticipant(_ context.Context, chatID string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCheck {
		return false, errors.New("database is locked")
	}
	return m.participants[chatID][userID], nil
}

func (m *memStore) AppendMessage(_ context.Context, chatID string, senderID int64, body string) (*store.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return nil, errors.New("disk I/O error")
	}
	m.nextID++
	msg := &store.ChatMessage{
		ID:        m.nextID,
		ChatID:    chatID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memStore) setFailAppend(v bool) {
	m.mu.Lock()
	m.failAppend = v
	m.mu.Unlock()
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

const testChat = "c1c1c1c1-0000-4000-8000-000000000001"

var (
	alice   = Identity{ID: "1", Username: "alice"}
	bob     = Identity{ID: "2", Username: "bob"}
	charlie = Identity{ID: "3", Username: "charlie"}
)

type harness struct {
	svc      *Service
	registry *Registry
	store    *memStore
	ctx      context.Context
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	if opts.SessionBuffer == 0 {
		opts.SessionBuffer = 8
	}

	st := newMemStore()
	st.addChat(testChat, 1, 2)

	registry := NewRegistry(nil, nil)
	svc := NewService(Deps{
		Resolver: tokenResolver{
			"alice-token":   alice,
			"bob-token":     bob,
			"charlie-token": charlie,
			"weird-token":   {ID: "not-a-number", Username: "weird"},
		},
		Authority: NewAuthority(st, nil),
		Messages:  st,
		Registry:  registry,
		Pool:      NewPool(4, time.Second),
	}, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return &harness{svc: svc, registry: registry, store: st, ctx: ctx}
}

// connect opens and serves a session, returning its transport and a channel with Serve's result.
func (h *harness) connect(t *testing.T, token string) (*Session, *fakeTransport, <-chan error) {
	t.Helper()

	sess, err := h.svc.Open(h.ctx, testChat, token, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("open %s: %v", token, err)
	}
	tr := newFakeTransport()
	done := make(chan error, 1)
	go func() {
		done <- h.svc.Serve(h.ctx, sess, tr)
	}()
	return sess, tr, done
}

func mustFrame(t *testing.T, tr *fakeTransport) string {
	t.Helper()

	select {
	case data := <-tr.out:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected outbound frame not received")
		return ""
	}
}

func mustNoFrame(t *testing.T, tr *fakeTransport) {
	t.Helper()

	select {
	case data := <-tr.out:
		t.Fatalf("unexpected outbound frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

// recorder is a Subscriber that records deliveries.
type recorder struct {
	mu        sync.Mutex
	got       []*Envelope
	fail      bool
	closed    error
	onDeliver func()
}

func (r *recorder) Deliver(env *Envelope) error {
	if r.onDeliver != nil {
		r.onDeliver()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("%w: test", ErrDelivery)
	}
	r.got = append(r.got, env)
	return nil
}

func (r *recorder) Close(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		r.closed = cause
	}
}

func (r *recorder) received() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}
