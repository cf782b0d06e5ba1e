package types

import (
	"time"
)

// UserProfile is the identity a client supplies when joining a room. It is
// taken as-is apart from a presence check on the name.
type UserProfile struct {
	Name string `json:"name" validate:"required"`
	Role string `json:"role"`
}

// Member is a connection's presence record within a single room.
type Member struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// MessageUser identifies the sender of a chat message.
type MessageUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Message is immutable once created and owned by its room's log.
type Message struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	User      MessageUser `json:"user"`
	Timestamp time.Time   `json:"timestamp"`
}

// Room is the wire-level room snapshot delivered to a joining connection.
// Questions and polls are reserved fields carried for client compatibility.
type Room struct {
	ID        string    `json:"id"`
	Users     []Member  `json:"users"`
	Messages  []Message `json:"messages"`
	Questions []any     `json:"questions"`
	Polls     []any     `json:"polls"`
}
