package chatws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/metrics"
	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/Billboah/ChatApp-sub000/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Conn is the part of a WebSocket connection the hub needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Client struct {
	hub    *Hub
	conn   Conn
	userID int64
	user   models.Participant
	send   chan []byte
	// rooms is owned by the hub's Run goroutine.
	rooms map[int64]struct{}
}

type sender interface {
	IsMember(ctx context.Context, chatID int64, userID int64) (bool, error)
	SendMessage(
		ctx context.Context,
		actorID int64,
		chatID int64,
		content string,
	) (*services.ChatDelivery, error)
}

func NewClient(hub *Hub, conn Conn, user models.Participant, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: user.ID,
		user:   user,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[int64]struct{}),
	}
}

func (c *Client) ReadPump(service sender) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.hub.sendTo(c, models.Event{Type: models.EventConnected, UserID: c.userID})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var command models.Command
		if err := json.Unmarshal(payload, &command); err != nil {
			c.writeError(0, "invalid message payload")
			continue
		}

		c.handle(service, command)
	}
}

func (c *Client) handle(service sender, command models.Command) {
	if command.Type == models.CommandPing {
		c.hub.sendTo(c, models.Event{Type: models.EventPong})
		return
	}

	if command.ChatID <= 0 {
		c.writeError(0, "invalid chat id")
		return
	}

	switch command.Type {
	case models.CommandJoinRoom:
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		member, err := service.IsMember(ctx, command.ChatID, c.userID)
		cancel()
		if err != nil {
			c.writeError(command.ChatID, "failed to join room")
			return
		}
		if !member {
			c.writeError(command.ChatID, "not a member of this chat")
			return
		}
		c.hub.JoinRoom(c, command.ChatID)
		c.hub.sendTo(c, models.Event{Type: models.EventRoomJoined, ChatID: command.ChatID})
	case models.CommandLeaveRoom:
		c.hub.LeaveRoom(c, command.ChatID)
		c.hub.sendTo(c, models.Event{Type: models.EventRoomLeft, ChatID: command.ChatID})
	case models.CommandTyping:
		c.hub.relayTyping(c, command.ChatID, true)
	case models.CommandStopTyping:
		c.hub.relayTyping(c, command.ChatID, false)
	case models.CommandSendMessage:
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		delivery, err := service.SendMessage(ctx, c.userID, command.ChatID, command.Content)
		cancel()
		if err != nil {
			c.hub.sendTo(c, models.Event{
				Type:   models.EventError,
				ChatID: command.ChatID,
				TempID: command.TempID,
				Error:  "failed to send message",
			})
			return
		}
		metrics.MessagesSent.WithLabelValues("ws").Inc()

		c.hub.sendTo(c, models.Event{
			Type:    models.EventMessageAck,
			ChatID:  command.ChatID,
			TempID:  command.TempID,
			Message: delivery.Message,
		})
		c.hub.PublishMessage(delivery.Message, c)
	default:
		c.writeError(command.ChatID, "unsupported message type")
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.hub.presence != nil {
				c.hub.withPresence(func(ctx context.Context) error { return c.hub.presence.Refresh(ctx, c.userID) })
			}
		}
	}
}

func (c *Client) writeError(chatID int64, message string) {
	c.hub.sendTo(c, models.Event{
		Type:   models.EventError,
		ChatID: chatID,
		Error:  message,
	})
}
