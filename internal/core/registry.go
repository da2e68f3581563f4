package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/proxichat/internal/metrics"
)

const shardCount = 64

// Broadcaster fans an envelope out to a chat. The local Registry is one;
// the Redis relay is another that reaches every instance.
type Broadcaster interface {
	Broadcast(ctx context.Context, chatID string, env *Envelope) error
}

type shard struct {
	mu     sync.RWMutex
	groups map[string]*group
}

// Registry maps chat ids to the sessions currently joined on this instance.
// State is split across shards keyed by chat id, each with its own lock.
type Registry struct {
	shards  [shardCount]*shard
	closed  atomic.Bool
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zerolog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	r := &Registry{log: logger, metrics: m}
	for i := range r.shards {
		r.shards[i] = &shard{groups: make(map[string]*group)}
	}
	return r
}

func (r *Registry) shardFor(chatID string) *shard {
	return r.shards[xxhash.Sum64String(chatID)%shardCount]
}

// Join subscribes s to the chat. Joining twice is a no-op.
func (r *Registry) Join(chatID string, s Subscriber) error {
	if r.closed.Load() {
		return ErrShutdown
	}

	sh := r.shardFor(chatID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	g, ok := sh.groups[chatID]
	if !ok {
		g = newGroup()
		sh.groups[chatID] = g
	}
	g.add(s)
	return nil
}

// Leave unsubscribes s from the chat. Removing a non-member is a no-op.
func (r *Registry) Leave(chatID string, s Subscriber) {
	sh := r.shardFor(chatID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	g, ok := sh.groups[chatID]
	if !ok {
		return
	}
	g.remove(s)
	if g.empty() {
		delete(sh.groups, chatID)
	}
}

// Fanout delivers env to every subscriber joined at call time and returns how many accepted it.
// A failing subscriber does not stop delivery to the rest.
func (r *Registry) Fanout(chatID string, env *Envelope) int {
	sh := r.shardFor(chatID)
	sh.mu.RLock()
	g, ok := sh.groups[chatID]
	var members []Subscriber
	if ok {
		members = g.snapshot()
	}
	sh.mu.RUnlock()

	delivered := 0
	for _, s := range members {
		if err := s.Deliver(env); err != nil {
			r.metrics.DeliveryFailed()
			r.log.Warn().Err(err).Str("chat_id", chatID).Msg("fanout delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Broadcast implements Broadcaster for a single instance.
func (r *Registry) Broadcast(_ context.Context, chatID string, env *Envelope) error {
	r.Fanout(chatID, env)
	return nil
}

// Members returns the number of subscribers joined to the chat.
func (r *Registry) Members(chatID string) int {
	sh := r.shardFor(chatID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if g, ok := sh.groups[chatID]; ok {
		return len(g.members)
	}
	return 0
}

// Contains reports whether s is joined to the chat.
func (r *Registry) Contains(chatID string, s Subscriber) bool {
	sh := r.shardFor(chatID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	g, ok := sh.groups[chatID]
	if !ok {
		return false
	}
	_, joined := g.members[s]
	return joined
}

// Close rejects further joins and closes every joined subscriber.
func (r *Registry) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}

	var all []Subscriber
	for _, sh := range r.shards {
		sh.mu.Lock()
		for _, g := range sh.groups {
			all = append(all, g.snapshot()...)
		}
		sh.groups = make(map[string]*group)
		sh.mu.Unlock()
	}

	// Close outside the locks.
	for _, s := range all {
		s.Close(ErrShutdown)
	}
	r.log.Info().Int("sessions", len(all)).Msg("registry closed")
}
