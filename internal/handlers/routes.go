package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/pelusa-v/pelusa-chat/internal/auth"
	"github.com/pelusa-v/pelusa-chat/internal/metrics"
)

func (h *Handler) Register(app *fiber.App, v *auth.Validator) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "connections": h.mgr.Hub().Connections()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// WS
	app.Use("/ws", UpgradeOnly(v))
	app.Get("/ws/notification/:room_name", websocket.New(h.NotificationHandler))

	api := app.Group("/api", JWTMiddleware(v))
	api.Post("/rooms/private", h.CreatePrivateRoomHandler)
	api.Post("/rooms/group", h.CreateGroupRoomHandler)
	api.Delete("/rooms/:type/:room_name", h.DeleteRoomHandler)
	api.Get("/rooms/:room_name/messages", h.HistoryHandler)
	api.Get("/presence/:username", h.PresenceHandler)
}
