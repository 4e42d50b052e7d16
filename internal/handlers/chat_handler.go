package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Billboah/ChatApp-sub000/internal/metrics"
	"github.com/Billboah/ChatApp-sub000/internal/middleware"
	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/Billboah/ChatApp-sub000/internal/services"
	chatws "github.com/Billboah/ChatApp-sub000/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

type chatApplicationService interface {
	ListChats(ctx context.Context, actorID int64) ([]models.ChatSummary, error)
	FetchMessages(ctx context.Context, actorID int64, chatID int64, lastMessageID int64) (*models.HistoryPage, error)
	UnreadMessages(ctx context.Context, actorID int64, chatID int64) ([]models.Message, error)
	SendMessage(ctx context.Context, actorID int64, chatID int64, content string) (*services.ChatDelivery, error)
	IsMember(ctx context.Context, chatID int64, userID int64) (bool, error)
	MemberIDs(ctx context.Context, actorID int64, chatID int64) ([]int64, error)
	Participant(ctx context.Context, userID int64) (*models.Participant, error)
}

type onlineLookup interface {
	OnlineAmong(ctx context.Context, userIDs []int64) ([]int64, error)
}

type ChatHandler struct {
	service      chatApplicationService
	hub          *chatws.Hub
	presence     onlineLookup
	socketAuth   fiber.Handler
	wsSendBuffer int
	logger       zerolog.Logger
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type ChatHandlerOption func(*ChatHandler)

func WithPresence(presence onlineLookup) ChatHandlerOption {
	return func(h *ChatHandler) { h.presence = presence }
}

func WithLogger(logger zerolog.Logger) ChatHandlerOption {
	return func(h *ChatHandler) { h.logger = logger }
}

func WithSendBuffer(size int) ChatHandlerOption {
	return func(h *ChatHandler) { h.wsSendBuffer = size }
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub, jwtSecret string, opts ...ChatHandlerOption) *ChatHandler {
	h := &ChatHandler{
		service: service,
		hub:     hub,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.socketAuth = middleware.AuthRequired(jwtSecret,
		middleware.WithQueryToken("token"),
		middleware.WithAuthLogger(h.logger),
	)
	return h
}

func (h *ChatHandler) ListChats(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	chats, err := h.service.ListChats(c.Context(), userID)
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"chats": chats})
}

// GetMessages returns the caller's unread slice for the chat plus one page of
// history older than lastMessageId.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	chatID, err := parseChatID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid chat id"})
	}

	var lastMessageID int64
	if raw := strings.TrimSpace(c.Query("lastMessageId")); raw != "" {
		lastMessageID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || lastMessageID < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid lastMessageId"})
		}
	}

	page, err := h.service.FetchMessages(c.Context(), userID, chatID, lastMessageID)
	if err != nil {
		return h.mapChatError(c, err)
	}

	metrics.HistoryFetches.Inc()
	metrics.UnreadReturned.Add(float64(len(page.UnreadMessages)))

	return c.JSON(page)
}

func (h *ChatHandler) GetUnread(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	chatID, err := parseChatID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid chat id"})
	}

	unread, err := h.service.UnreadMessages(c.Context(), userID, chatID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	if unread == nil {
		unread = make([]models.Message, 0)
	}

	metrics.UnreadReturned.Add(float64(len(unread)))

	return c.JSON(fiber.Map{"unread_messages": unread})
}

// SendMessage persists a message and pushes it to every other connection in
// the chat room. The caller receives the stored message in the response.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	chatID, err := parseChatID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid chat id"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	delivery, err := h.service.SendMessage(c.Context(), userID, chatID, req.Content)
	if err != nil {
		return h.mapChatError(c, err)
	}

	metrics.MessagesSent.WithLabelValues("http").Inc()
	h.hub.PublishMessage(delivery.Message, nil)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": delivery.Message})
}

func (h *ChatHandler) GetOnline(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	chatID, err := parseChatID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid chat id"})
	}

	memberIDs, err := h.service.MemberIDs(c.Context(), userID, chatID)
	if err != nil {
		return h.mapChatError(c, err)
	}

	online := make([]int64, 0)
	if h.presence != nil {
		found, err := h.presence.OnlineAmong(c.Context(), memberIDs)
		if err != nil {
			h.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("presence lookup failed")
		} else if found != nil {
			online = found
		}
	}

	return c.JSON(fiber.Map{"online_user_ids": online})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}
	return h.socketAuth(c)
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	rawID, _ := conn.Locals(middleware.LocalUserID).(string)
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || userID <= 0 {
		_ = conn.Close()
		return
	}

	user := models.Participant{ID: userID}
	user.Name, _ = conn.Locals(middleware.LocalUserName).(string)
	if user.Name == "" {
		if participant, err := h.service.Participant(context.Background(), userID); err == nil {
			user = *participant
		}
	}

	client := chatws.NewClient(h.hub, conn, user, h.wsSendBuffer)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

func parseActorID(c *fiber.Ctx) (int64, error) {
	raw, ok := c.Locals(middleware.LocalUserID).(string)
	if !ok {
		return 0, errors.New("missing user id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}

func parseChatID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid chat id")
	}
	return id, nil
}

func (h *ChatHandler) mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrChatNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Chat not found"})
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("chat request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
