package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/relaychat/relay/internal/stats"
	"github.com/relaychat/relay/internal/types"
)

// DefaultGracePeriod is how long an empty room is retained before eviction,
// absorbing quick disconnect/reconnect cycles without losing history.
const DefaultGracePeriod = 60 * time.Second

// RelayServer owns the room store and connection registry. All mutation of
// shared state happens on the Run loop goroutine; client pumps and eviction
// timers re-enter through channels, so handlers never observe a room in a
// torn intermediate state.
type RelayServer struct {
	log      *log.Logger
	stats    stats.StatsProvider
	validate *validator.Validate

	rooms    *RoomStore
	registry *ConnectionRegistry

	gracePeriod time.Duration

	// groups is the transport-level broadcast grouping: room id to the
	// connections subscribed to it. Touched only on the Run loop.
	groups  map[string]map[*Client]struct{}
	clients map[*Client]struct{}

	registerChan   chan *Client
	deRegisterChan chan *Client
	eventChan      chan *ClientEvent
	evictChan      chan string
	stop           chan struct{}
	done           chan struct{}
}

func NewRelayServer(logger *log.Logger, su stats.StatsProvider, gracePeriod time.Duration) (*RelayServer, error) {
	if gracePeriod <= 0 {
		return nil, fmt.Errorf("grace period must be positive, got %s", gracePeriod)
	}

	rs := &RelayServer{
		log:            logger,
		stats:          su,
		validate:       validator.New(),
		rooms:          NewRoomStore(),
		registry:       NewConnectionRegistry(),
		gracePeriod:    gracePeriod,
		groups:         make(map[string]map[*Client]struct{}),
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		eventChan:      make(chan *ClientEvent, 256),
		evictChan:      make(chan string, 32),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	su.RegisterMetric("NumRooms")
	su.RegisterMetric("NumConnections")
	su.RegisterMetric("NumMessages")

	return rs, nil
}

func (rs *RelayServer) Run() {
	for {
		select {
		case c := <-rs.registerChan:
			rs.log.Printf("new client connected: %s", c.ID())
			rs.clients[c] = struct{}{}
			rs.stats.Incr("NumConnections")
		case c := <-rs.deRegisterChan:
			rs.log.Printf("client disconnected: %s", c.ID())
			delete(rs.clients, c)
			rs.stats.Decr("NumConnections")
			rs.handleDisconnect(c)
		case ev := <-rs.eventChan:
			rs.dispatch(ev)
		case roomID := <-rs.evictChan:
			rs.evictIfEmpty(roomID)
		case <-rs.stop:
			rs.log.Println("stopping client connections")
			for c := range rs.clients {
				c.stopClient()
			}

			close(rs.done)
			return
		}
	}
}

// Shutdown stops the run loop and waits for it to drain, honoring ctx.
func (rs *RelayServer) Shutdown(ctx context.Context) error {
	close(rs.stop)

	select {
	case <-rs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (rs *RelayServer) RegisterClient(c *Client) {
	select {
	case rs.registerChan <- c:
	case <-rs.done:
	}
}

func (rs *RelayServer) deRegisterClient(c *Client) {
	select {
	case rs.deRegisterChan <- c:
	case <-rs.done:
	}
}

// RoomCount reports the number of live rooms, including rooms inside their
// post-empty grace period.
func (rs *RelayServer) RoomCount() int {
	return rs.rooms.Len()
}

// UserCount reports the number of connections currently bound to a room.
func (rs *RelayServer) UserCount() int {
	return rs.registry.Len()
}

// dispatch is the guarded boundary of the protocol operations: a failure in
// one never propagates past its origin connection, which receives a generic
// error event while the details go to the server log.
func (rs *RelayServer) dispatch(ev *ClientEvent) {
	var err error
	switch ev.Event {
	case EventJoinRoom:
		err = rs.handleJoin(ev)
	case EventSendMessage:
		err = rs.handleSendMessage(ev)
	default:
		err = ErrUnknownEvent
	}

	if err != nil {
		rs.log.Printf("%s from %s: %v", ev.Event, ev.conn.ID(), err)
		ev.conn.queueEvent(errEvent(failureMessage(ev.Event)))
	}
}

func failureMessage(event string) string {
	switch event {
	case EventJoinRoom:
		return "Failed to join room"
	case EventSendMessage:
		return "Failed to send message"
	default:
		return "Failed to process event"
	}
}

// handleJoin admits a connection into a room, creating the room on first
// use. A rejoin with the same connection id replaces the member entry.
func (rs *RelayServer) handleJoin(ev *ClientEvent) error {
	var data JoinRoomData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("decode joinRoom: %w", err)
	}
	if err := rs.validate.Struct(&data); err != nil {
		return fmt.Errorf("validate joinRoom: %w", err)
	}

	c := ev.conn

	// a connection belongs to at most one room; joining another moves it
	if prev, ok := rs.registry.Get(c.ID()); ok && prev.RoomID != data.RoomID {
		rs.unsubscribe(c, prev.RoomID)
		rs.leaveRoom(c, prev.RoomID)
	}

	rs.subscribe(c, data.RoomID)

	room, created := rs.rooms.GetOrCreate(data.RoomID)
	if created {
		rs.stats.Incr("NumRooms")
	}

	member := types.Member{
		ID:       c.ID(),
		Name:     data.User.Name,
		Role:     data.User.Role,
		JoinedAt: Now(),
	}
	room.upsertMember(member)
	rs.registry.Put(c.ID(), data.User, data.RoomID)

	rs.broadcast(data.RoomID, userJoinedEvent(member, room.Members()), c)
	c.queueEvent(roomDataEvent(room.Snapshot(snapshotLimit)))

	rs.log.Printf("user %q joined room %q", data.User.Name, data.RoomID)
	return nil
}

// handleSendMessage appends a chat message to the room's log and fans it
// out to every member, sender included. A message to a room the relay has
// no record of is dropped without an error.
func (rs *RelayServer) handleSendMessage(ev *ClientEvent) error {
	var data SendMessageData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("decode sendMessage: %w", err)
	}
	if err := rs.validate.Struct(&data); err != nil {
		return fmt.Errorf("validate sendMessage: %w", err)
	}

	room, ok := rs.rooms.Get(data.RoomID)
	if !ok {
		return nil
	}

	msg := types.Message{
		ID:        newMessageID(),
		Text:      data.Message.Text,
		User:      data.User,
		Timestamp: Now(),
	}
	room.appendMessage(msg)
	rs.stats.Incr("NumMessages")

	rs.broadcast(data.RoomID, newMessageEvent(msg), nil)
	return nil
}

// handleDisconnect removes the connection from its room and schedules a
// deferred eviction if the room became empty. The registry entry is removed
// regardless of whether the room lookup succeeds.
func (rs *RelayServer) handleDisconnect(c *Client) {
	rs.unsubscribeAll(c)

	entry, ok := rs.registry.Get(c.ID())
	if !ok {
		return
	}

	rs.leaveRoom(c, entry.RoomID)
	rs.registry.Remove(c.ID())
}

// leaveRoom removes the connection's membership, tells the remaining
// members, and arms the eviction timer when the room just became empty.
func (rs *RelayServer) leaveRoom(c *Client, roomID string) {
	room, ok := rs.rooms.Get(roomID)
	if !ok {
		return
	}

	room.removeMember(c.ID())

	if room.memberCount() > 0 {
		rs.broadcast(roomID, userLeftEvent(c.ID(), room.Members()), c)
	} else {
		rs.scheduleEviction(roomID)
	}
}

// scheduleEviction arms the grace-period timer for an empty room. The timer
// re-enters the run loop through evictChan so the member-count re-check also
// runs on the loop; a join during the grace window makes the re-check fail,
// which is the cancellation mechanism.
func (rs *RelayServer) scheduleEviction(roomID string) {
	rs.log.Printf("room %q is empty, evicting in %s", roomID, rs.gracePeriod)
	time.AfterFunc(rs.gracePeriod, func() {
		select {
		case rs.evictChan <- roomID:
		case <-rs.done:
		}
	})
}

func (rs *RelayServer) evictIfEmpty(roomID string) {
	if rs.rooms.DeleteIfEmpty(roomID) {
		rs.log.Printf("room %q removed (empty)", roomID)
		rs.stats.Decr("NumRooms")
	}
}

// subscribe adds the connection to the room's broadcast group.
func (rs *RelayServer) subscribe(c *Client, roomID string) {
	if rs.groups[roomID] == nil {
		rs.groups[roomID] = make(map[*Client]struct{})
	}
	rs.groups[roomID][c] = struct{}{}
	c.groups[roomID] = struct{}{}
}

func (rs *RelayServer) unsubscribe(c *Client, roomID string) {
	if group, ok := rs.groups[roomID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(rs.groups, roomID)
		}
	}
	delete(c.groups, roomID)
}

func (rs *RelayServer) unsubscribeAll(c *Client) {
	for roomID := range c.groups {
		rs.unsubscribe(c, roomID)
	}
}

// broadcast queues ev on every connection in the room's broadcast group,
// except skip when non-nil.
func (rs *RelayServer) broadcast(roomID string, ev *ServerEvent, skip *Client) {
	for c := range rs.groups[roomID] {
		if c == skip {
			continue
		}

		c.queueEvent(ev)
	}
}
