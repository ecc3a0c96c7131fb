package live

import "sync"

// Member is one live connection inside an auction room.
type Member struct {
	ConnID  string
	Address string // authenticated user address, opaque to this layer
}

// Registry tracks room membership per auction. It is purely in-memory and
// scoped to the process lifetime; a restart empties every room and clients
// rejoin. All methods are safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	// rooms maps auctionID -> connID -> member.
	rooms map[string]map[string]Member
	// conns is the reverse index: connID -> set of auctionIDs, so that a
	// transport-level disconnect can clear every membership without an
	// explicit leave message.
	conns map[string]map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Member),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds a connection to an auction room. It returns true when the
// membership is new; joining a room twice is a no-op beyond membership.
func (r *Registry) Join(auctionID string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[auctionID]
	if !ok {
		room = make(map[string]Member)
		r.rooms[auctionID] = room
	}
	if _, exists := room[m.ConnID]; exists {
		return false
	}
	room[m.ConnID] = m

	joined, ok := r.conns[m.ConnID]
	if !ok {
		joined = make(map[string]struct{})
		r.conns[m.ConnID] = joined
	}
	joined[auctionID] = struct{}{}
	return true
}

// Leave removes a connection from one auction room. It returns the removed
// member and whether it was present.
func (r *Registry) Leave(auctionID, connID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(auctionID, connID)
}

func (r *Registry) leaveLocked(auctionID, connID string) (Member, bool) {
	room, ok := r.rooms[auctionID]
	if !ok {
		return Member{}, false
	}
	m, ok := room[connID]
	if !ok {
		return Member{}, false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, auctionID)
	}
	if joined, ok := r.conns[connID]; ok {
		delete(joined, auctionID)
		if len(joined) == 0 {
			delete(r.conns, connID)
		}
	}
	return m, true
}

// RemoveConnection clears a connection from every room it belonged to. The
// transport layer calls this unconditionally on teardown. It returns the
// removed membership keyed by auctionID so the caller can notify each room.
func (r *Registry) RemoveConnection(connID string) map[string]Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.conns[connID]
	if !ok {
		return nil
	}
	removed := make(map[string]Member, len(joined))
	for auctionID := range joined {
		if m, ok := r.leaveLocked(auctionID, connID); ok {
			removed[auctionID] = m
		}
	}
	return removed
}

// MembersOf returns a snapshot of the members in an auction room.
func (r *Registry) MembersOf(auctionID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[auctionID]
	out := make([]Member, 0, len(room))
	for _, m := range room {
		out = append(out, m)
	}
	return out
}

// CountOf returns the number of members in an auction room.
func (r *Registry) CountOf(auctionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[auctionID])
}

// Rooms returns the IDs of every auction with at least one member.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}
