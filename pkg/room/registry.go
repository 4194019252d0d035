package room

import (
	"sort"
	"sync"
)

// Registry maps negotiation ids to the connections currently subscribed to
// them. It only holds connection ids; the gateway owns the connections.
// A single lock covers both indexes so readers never see a half-applied change.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // negotiation id -> connection ids
	conns map[string]map[string]struct{} // connection id -> negotiation ids
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to the room. It reports whether membership changed.
func (r *Registry) Join(negotiationID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[negotiationID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[negotiationID] = members
	}
	if _, ok := members[connID]; ok {
		return false
	}
	members[connID] = struct{}{}

	joined, ok := r.conns[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.conns[connID] = joined
	}
	joined[negotiationID] = struct{}{}
	return true
}

// Leave removes connID from the room. It reports whether membership changed.
func (r *Registry) Leave(negotiationID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(negotiationID, connID)
}

// DropConnection removes connID from every room and returns the rooms it left.
func (r *Registry) DropConnection(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.conns[connID]
	left := make([]string, 0, len(joined))
	for negotiationID := range joined {
		left = append(left, negotiationID)
	}
	for _, negotiationID := range left {
		r.remove(negotiationID, connID)
	}
	sort.Strings(left)
	return left
}

// MembersOf returns a snapshot of the room's connection ids.
func (r *Registry) MembersOf(negotiationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.rooms[negotiationID])
}

// RoomsOf returns a snapshot of the rooms connID has joined.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.conns[connID])
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// remove expects r.mu to be held. Empty sets are pruned.
func (r *Registry) remove(negotiationID, connID string) bool {
	members, ok := r.rooms[negotiationID]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, negotiationID)
	}

	if joined, ok := r.conns[connID]; ok {
		delete(joined, negotiationID)
		if len(joined) == 0 {
			delete(r.conns, connID)
		}
	}
	return true
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
