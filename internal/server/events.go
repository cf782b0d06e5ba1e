package server

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/teris-io/shortid"

	"github.com/relaychat/relay/internal/types"
)

// Event names exchanged with clients. Inbound names select the protocol
// operation; outbound names tag the frames the relay pushes.
const (
	EventJoinRoom    = "joinRoom"
	EventSendMessage = "sendMessage"

	EventUserJoined = "userJoined"
	EventRoomData   = "roomData"
	EventNewMessage = "newMessage"
	EventUserLeft   = "userLeft"
	EventError      = "error"
)

var ErrUnknownEvent = errors.New("unknown event")

// ClientEvent is a single inbound frame from a connection. Data stays raw
// until the matching handler decodes it.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`

	conn *Client
}

// JoinRoomData is the payload of a joinRoom event.
type JoinRoomData struct {
	RoomID string            `json:"roomId" validate:"required"`
	User   types.UserProfile `json:"user" validate:"required"`
}

// SendMessageData is the payload of a sendMessage event.
type SendMessageData struct {
	RoomID  string `json:"roomId" validate:"required"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	User types.MessageUser `json:"user"`
}

// ServerEvent is a single outbound frame pushed to one or more connections.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type UserJoinedData struct {
	User  types.Member   `json:"user"`
	Users []types.Member `json:"users"`
}

type RoomDataPayload struct {
	Room types.Room `json:"room"`
}

type UserLeftData struct {
	UserID string         `json:"userId"`
	Users  []types.Member `json:"users"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func userJoinedEvent(member types.Member, members []types.Member) *ServerEvent {
	return &ServerEvent{
		Event: EventUserJoined,
		Data:  UserJoinedData{User: member, Users: members},
	}
}

func roomDataEvent(room types.Room) *ServerEvent {
	return &ServerEvent{
		Event: EventRoomData,
		Data:  RoomDataPayload{Room: room},
	}
}

func newMessageEvent(msg types.Message) *ServerEvent {
	return &ServerEvent{
		Event: EventNewMessage,
		Data:  msg,
	}
}

func userLeftEvent(connID string, members []types.Member) *ServerEvent {
	return &ServerEvent{
		Event: EventUserLeft,
		Data:  UserLeftData{UserID: connID, Users: members},
	}
}

// errEvent carries a generic failure message to the originating connection
// only. Failure details stay in the server log.
func errEvent(message string) *ServerEvent {
	return &ServerEvent{
		Event: EventError,
		Data:  ErrorData{Message: message},
	}
}

// newMessageID derives a message id from the creation time, as the wire
// format expects, with a shortid suffix since two sends can land in the
// same millisecond.
func newMessageID() string {
	ms := strconv.FormatInt(time.Now().UnixMilli(), 10)
	suffix, err := shortid.Generate()
	if err != nil {
		return ms
	}

	return ms + "-" + suffix
}

// Now returns the timestamp used on members and messages.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
