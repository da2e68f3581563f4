package core

// group holds the subscribers currently joined to one chat.
// It is not safe for concurrent use; the owning shard locks it.
type group struct {
	members map[Subscriber]struct{}
}

func newGroup() *group {
	return &group{members: make(map[Subscriber]struct{})}
}

// add inserts a subscriber. Returns true if newly added.
func (g *group) add(s Subscriber) bool {
	if _, exists := g.members[s]; exists {
		return false
	}
	g.members[s] = struct{}{}
	return true
}

// remove deletes a subscriber. Returns true if removed.
func (g *group) remove(s Subscriber) bool {
	if _, exists := g.members[s]; !exists {
		return false
	}
	delete(g.members, s)
	return true
}

// snapshot copies the member set so delivery happens outside the lock.
func (g *group) snapshot() []Subscriber {
	out := make([]Subscriber, 0, len(g.members))
	for s := range g.members {
		out = append(out, s)
	}
	return out
}

func (g *group) empty() bool {
	return len(g.members) == 0
}
