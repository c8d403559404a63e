package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pelusa-v/pelusa-chat/internal/auth"
	"github.com/pelusa-v/pelusa-chat/internal/chat"
)

const identityKey = "identity"

// JWTMiddleware rejects requests without a valid bearer token and stores the
// caller's chat.Identity in Locals.
func JWTMiddleware(v *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tok, err := auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		claims, err := v.Validate(tok)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(identityKey, chat.Identity{UserID: claims.UserID, Username: claims.Username})
		return c.Next()
	}
}

func identityFrom(c *fiber.Ctx) (chat.Identity, bool) {
	ident, ok := c.Locals(identityKey).(chat.Identity)
	return ident, ok
}

// UpgradeOnly lets websocket upgrade requests through and resolves the token
// query parameter. A bad or missing token is not an HTTP error here, the
// session rejects it once upgraded.
func UpgradeOnly(v *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if tok := c.Query("token"); tok != "" {
			if claims, err := v.Validate(tok); err == nil {
				c.Locals(identityKey, chat.Identity{UserID: claims.UserID, Username: claims.Username})
			}
		}
		return c.Next()
	}
}
