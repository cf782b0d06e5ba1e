package server

import (
	"sort"
	"sync"

	"github.com/relaychat/relay/internal/types"
)

// snapshotLimit caps the message history included in the snapshot sent to a
// joining connection. It bounds the snapshot only; the log itself is never
// trimmed.
const snapshotLimit = 50

// Room aggregates the members and message history broadcast under one room
// id. Mutation happens on the relay run loop; reads used by the HTTP surface
// go through RoomStore, which holds the lock.
type Room struct {
	ID        string
	members   map[string]types.Member
	messages  []types.Message
	questions []any
	polls     []any
}

func newRoom(id string) *Room {
	return &Room{
		ID:        id,
		members:   make(map[string]types.Member),
		questions: []any{},
		polls:     []any{},
	}
}

// upsertMember inserts or replaces the member keyed by its connection id,
// so a rejoin from the same connection updates rather than duplicates.
func (r *Room) upsertMember(m types.Member) {
	r.members[m.ID] = m
}

// removeMember reports whether the connection was a member.
func (r *Room) removeMember(connID string) bool {
	_, ok := r.members[connID]
	delete(r.members, connID)
	return ok
}

func (r *Room) memberCount() int {
	return len(r.members)
}

// Members returns the current member list ordered by join time.
func (r *Room) Members() []types.Member {
	members := make([]types.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})

	return members
}

func (r *Room) appendMessage(msg types.Message) {
	r.messages = append(r.messages, msg)
}

// Snapshot builds the wire-level room view for a joining connection,
// carrying at most limit of the most recent messages in append order.
func (r *Room) Snapshot(limit int) types.Room {
	messages := r.messages
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	snap := types.Room{
		ID:        r.ID,
		Users:     r.Members(),
		Messages:  make([]types.Message, len(messages)),
		Questions: r.questions,
		Polls:     r.polls,
	}
	copy(snap.Messages, messages)

	return snap
}

// RoomStore holds every live room, keyed by the caller-supplied room id.
// Two clients naming the same room share it.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*Room),
	}
}

func (s *RoomStore) Get(id string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	return room, ok
}

// GetOrCreate returns the room for id, creating an empty one on first use.
func (s *RoomStore) GetOrCreate(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[id]; ok {
		return room, false
	}

	room := newRoom(id)
	s.rooms[id] = room
	return room, true
}

// DeleteIfEmpty removes the room only if it still exists and still has no
// members, and reports whether it was removed. This is the re-check a
// deferred eviction relies on: a join during the grace period makes it fail.
func (s *RoomStore) DeleteIfEmpty(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok || room.memberCount() > 0 {
		return false
	}

	delete(s.rooms, id)
	return true
}

// Len reports the number of live rooms.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rooms)
}
