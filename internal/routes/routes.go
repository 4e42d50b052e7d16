package routes

import (
	"context"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/config"
	"github.com/Billboah/ChatApp-sub000/internal/handlers"
	"github.com/Billboah/ChatApp-sub000/internal/middleware"
	"github.com/Billboah/ChatApp-sub000/internal/presence"
	"github.com/Billboah/ChatApp-sub000/internal/repository"
	"github.com/Billboah/ChatApp-sub000/internal/services"
	chatws "github.com/Billboah/ChatApp-sub000/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Dependencies struct {
	DB       *pgxpool.Pool
	Hub      *chatws.Hub
	Presence *presence.Tracker
	Logger   zerolog.Logger
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, deps Dependencies) {
	userRepo := repository.NewUserRepository(deps.DB)
	chatRepo := repository.NewChatRepository(deps.DB)
	messageRepo := repository.NewMessageRepository(deps.DB)
	unreadRepo := repository.NewUnreadRepository(deps.DB)

	chatService := services.NewChatService(deps.DB, chatRepo, messageRepo, unreadRepo, userRepo, cfg.HistoryPageSize)

	opts := []handlers.ChatHandlerOption{
		handlers.WithLogger(deps.Logger),
		handlers.WithSendBuffer(cfg.WSSendBuffer),
	}
	if deps.Presence != nil {
		opts = append(opts, handlers.WithPresence(deps.Presence))
	}
	chatHandler := handlers.NewChatHandler(chatService, deps.Hub, cfg.JWTSecret, opts...)

	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := deps.DB.Ping(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Registered ahead of the bearer-auth group: browsers cannot set headers on
	// a WebSocket upgrade, so the socket authenticates with ?token=.
	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret, middleware.WithAuthLogger(deps.Logger)))

	chats := authProtected.Group("/chats")
	chats.Get("", chatHandler.ListChats)
	chats.Get("/:id/messages", chatHandler.GetMessages)
	chats.Post("/:id/messages", chatHandler.SendMessage)
	chats.Get("/:id/unread", chatHandler.GetUnread)
	chats.Get("/:id/online", chatHandler.GetOnline)
}
