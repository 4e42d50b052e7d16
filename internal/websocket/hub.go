package chatws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/fanout"
	"github.com/Billboah/ChatApp-sub000/internal/metrics"
	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/Billboah/ChatApp-sub000/internal/services"
	"github.com/rs/zerolog"
)

// Relay forwards room events to other server nodes.
type Relay interface {
	Publish(env fanout.Envelope) error
}

// Presence records which users hold at least one live connection.
type Presence interface {
	Online(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID int64) error
	Refresh(ctx context.Context, userID int64) error
}

// Hub owns the room membership table. All reads and writes of rooms and
// clients happen on the Run goroutine. Once Run returns every entry point
// becomes a no-op.
type Hub struct {
	clients    map[*Client]struct{}
	rooms      map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	membership chan membershipChange
	broadcast  chan roomEvent
	done       chan struct{}

	relay    Relay
	presence Presence
	logger   zerolog.Logger
}

type membershipChange struct {
	client *Client
	chatID int64
	join   bool
	done   chan struct{}
}

type roomEvent struct {
	// target, when set, addresses a single connection instead of a room.
	target        *Client
	chatID        int64
	event         models.Event
	excludeClient *Client
	excludeUserID int64
	// requireSender drops the event unless excludeClient is subscribed to
	// the room. Used for typing relays.
	requireSender bool
	relay         bool
}

type HubOption func(*Hub)

func WithRelay(relay Relay) HubOption {
	return func(h *Hub) { h.relay = relay }
}

func WithPresence(presence Presence) HubOption {
	return func(h *Hub) { h.presence = presence }
}

func WithLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		membership: make(chan membershipChange),
		broadcast:  make(chan roomEvent, 64),
		done:       make(chan struct{}),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			metrics.WSConnections.Inc()
			h.logger.Debug().Int64("user_id", client.userID).Msg("connection registered")
		case client := <-h.unregister:
			h.drop(client)
		case change := <-h.membership:
			h.applyMembership(change)
			close(change.done)
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// Register adds the connection. After Run has returned the connection's send
// queue is closed instead, so its write pump exits.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
		return
	}
	if h.presence != nil {
		h.withPresence(func(ctx context.Context) error { return h.presence.Online(ctx, client.userID) })
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
	if h.presence != nil {
		h.withPresence(func(ctx context.Context) error { return h.presence.Offline(ctx, client.userID) })
	}
}

// JoinRoom subscribes the connection to the chat room. It returns once the
// membership is in effect. Joining twice is a no-op.
func (h *Hub) JoinRoom(client *Client, chatID int64) {
	h.changeMembership(client, chatID, true)
}

// LeaveRoom unsubscribes the connection. Leaving a room never joined is a
// no-op.
func (h *Hub) LeaveRoom(client *Client, chatID int64) {
	h.changeMembership(client, chatID, false)
}

func (h *Hub) changeMembership(client *Client, chatID int64, join bool) {
	done := make(chan struct{})
	select {
	case h.membership <- membershipChange{client: client, chatID: chatID, join: join, done: done}:
		<-done
	case <-h.done:
	}
}

// PublishMessage fans a persisted message out to the chat room. from is the
// connection the message was sent over and is skipped, since it already got
// the message in its ack. A message sent over REST has no connection, so
// every connection in the room gets it, the sender's own included.
func (h *Hub) PublishMessage(message *models.Message, from *Client) {
	h.publish(roomEvent{
		chatID:        message.ResolvedChatID(),
		excludeClient: from,
		event: models.Event{
			Type:    models.EventMessageCreated,
			ChatID:  message.ResolvedChatID(),
			Message: message,
		},
	}, true)
}

// DeliverRelayed hands an event received from another node to local room
// members without relaying it again.
func (h *Hub) DeliverRelayed(env fanout.Envelope) {
	h.publish(roomEvent{
		chatID:        env.ChatID,
		excludeUserID: env.ExcludeUserID,
		event:         env.Event,
	}, false)
}

func (h *Hub) publish(event roomEvent, relay bool) {
	if event.event.Timestamp == "" {
		event.event.Timestamp = services.FormatChatTimestamp(time.Now())
	}
	event.relay = relay && h.relay != nil
	h.enqueue(event)
}

func (h *Hub) enqueue(event roomEvent) {
	select {
	case h.broadcast <- event:
	case <-h.done:
	}
}

// relayTyping forwards a typing indicator to the rest of the room. It is
// dropped unless the sending connection has joined that room.
func (h *Hub) relayTyping(client *Client, chatID int64, typing bool) {
	event := models.Event{ChatID: chatID}
	if typing {
		event.Type = models.EventTyping
		user := client.user
		event.User = &user
	} else {
		event.Type = models.EventStopTyping
		event.UserID = client.userID
	}

	h.publish(roomEvent{
		chatID:        chatID,
		event:         event,
		excludeClient: client,
		excludeUserID: client.userID,
		requireSender: true,
	}, true)
}

func (h *Hub) applyMembership(change membershipChange) {
	if _, ok := h.clients[change.client]; !ok {
		return
	}

	if change.join {
		set, ok := h.rooms[change.chatID]
		if !ok {
			set = make(map[*Client]struct{})
			h.rooms[change.chatID] = set
		}
		set[change.client] = struct{}{}
		change.client.rooms[change.chatID] = struct{}{}
		return
	}

	h.removeFromRoom(change.client, change.chatID)
}

func (h *Hub) removeFromRoom(client *Client, chatID int64) {
	delete(client.rooms, chatID)
	set, ok := h.rooms[chatID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.rooms, chatID)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	for chatID := range client.rooms {
		h.removeFromRoom(client, chatID)
	}
	delete(h.clients, client)
	close(client.send)
	metrics.WSConnections.Dec()
	h.logger.Debug().Int64("user_id", client.userID).Msg("connection unregistered")
}

// sendTo queues an event for one connection. Writes to send queues only
// happen on the Run goroutine, so a dropped connection is never written to.
func (h *Hub) sendTo(client *Client, event models.Event) {
	if event.Timestamp == "" {
		event.Timestamp = services.FormatChatTimestamp(time.Now())
	}
	h.enqueue(roomEvent{target: client, chatID: event.ChatID, event: event})
}

func (h *Hub) deliver(event roomEvent) {
	if event.target != nil {
		h.deliverDirect(event)
		return
	}

	set := h.rooms[event.chatID]
	if event.requireSender {
		if _, joined := set[event.excludeClient]; !joined {
			return
		}
	}
	if event.relay {
		h.forward(event)
	}
	if len(set) == 0 {
		return
	}

	encoded, err := encodeEvent(&event.event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.event.Type).Msg("chat hub encode event")
		return
	}

	for client := range set {
		if client == event.excludeClient {
			continue
		}
		if event.excludeUserID != 0 && client.userID == event.excludeUserID {
			continue
		}
		select {
		case client.send <- encoded:
			metrics.RoomEventsDelivered.WithLabelValues(event.event.Type).Inc()
		default:
			metrics.SlowConsumersDropped.Inc()
			h.logger.Warn().Int64("user_id", client.userID).Int64("chat_id", event.chatID).Msg("dropping slow connection")
			h.drop(client)
		}
	}
}

func (h *Hub) forward(event roomEvent) {
	err := h.relay.Publish(fanout.Envelope{
		ChatID:        event.chatID,
		ExcludeUserID: event.excludeUserID,
		Event:         event.event,
	})
	if err != nil {
		metrics.RelayErrors.Inc()
		h.logger.Error().Err(err).Int64("chat_id", event.chatID).Msg("relay room event")
	}
}

func (h *Hub) deliverDirect(event roomEvent) {
	if _, ok := h.clients[event.target]; !ok {
		return
	}

	encoded, err := encodeEvent(&event.event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.event.Type).Msg("chat hub encode event")
		return
	}

	select {
	case event.target.send <- encoded:
	default:
		metrics.SlowConsumersDropped.Inc()
		h.drop(event.target)
	}
}

func (h *Hub) withPresence(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("presence update failed")
	}
}

func encodeEvent(event *models.Event) ([]byte, error) {
	return json.Marshal(event)
}
