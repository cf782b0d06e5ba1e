package server

import (
	"sync"

	"github.com/relaychat/relay/internal/types"
)

// RegistryEntry records which room a connection is bound to. It is the
// source of truth at disconnect time, when the join payload is long gone.
type RegistryEntry struct {
	ConnID  string
	RoomID  string
	Profile types.UserProfile
}

// ConnectionRegistry maps live connection ids to their room binding. A miss
// is a normal outcome (never-joined or already-removed connection), not a
// fault, so no operation on it returns an error.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	entries map[string]RegistryEntry
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		entries: make(map[string]RegistryEntry),
	}
}

// Put inserts or overwrites the entry for connID.
func (r *ConnectionRegistry) Put(connID string, profile types.UserProfile, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[connID] = RegistryEntry{
		ConnID:  connID,
		RoomID:  roomID,
		Profile: profile,
	}
}

func (r *ConnectionRegistry) Get(connID string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[connID]
	return entry, ok
}

func (r *ConnectionRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, connID)
}

// Len reports the number of registered connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
