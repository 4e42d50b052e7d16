package middleware

import (
	"errors"
	"strings"

	"github.com/Billboah/ChatApp-sub000/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Locals keys filled in for authenticated requests.
const (
	LocalUserID   = "user_id"
	LocalUserName = "user_name"
)

var (
	errMissingToken    = errors.New("missing token")
	errMalformedHeader = errors.New("malformed authorization header")
)

type authConfig struct {
	queryParam string
	logger     zerolog.Logger
}

type AuthOption func(*authConfig)

// WithQueryToken accepts the token from the named query parameter before
// falling back to the Authorization header. Browsers cannot set headers on a
// WebSocket upgrade.
func WithQueryToken(param string) AuthOption {
	return func(c *authConfig) { c.queryParam = param }
}

func WithAuthLogger(logger zerolog.Logger) AuthOption {
	return func(c *authConfig) { c.logger = logger }
}

func AuthRequired(secret string, opts ...AuthOption) fiber.Handler {
	cfg := authConfig{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *fiber.Ctx) error {
		token, err := requestToken(c, cfg.queryParam)
		if err != nil {
			cfg.logger.Debug().Err(err).Str("path", c.Path()).Msg("rejected request")
			message := "Missing authorization header"
			if errors.Is(err, errMalformedHeader) {
				message = "Invalid authorization header format"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": message})
		}

		claims, err := utils.ValidateToken(token, secret)
		if err != nil {
			cfg.logger.Debug().Err(err).Str("path", c.Path()).Msg("rejected token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalUserName, claims.Name)

		return c.Next()
	}
}

func requestToken(c *fiber.Ctx, queryParam string) (string, error) {
	if queryParam != "" {
		if token := strings.TrimSpace(c.Query(queryParam)); token != "" {
			return token, nil
		}
	}

	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return "", errMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errMalformedHeader
	}
	return token, nil
}
