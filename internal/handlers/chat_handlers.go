package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/pelusa-v/pelusa-chat/internal/presence"
	"github.com/pelusa-v/pelusa-chat/internal/store"
	"go.uber.org/zap"
)

type Handler struct {
	mgr      *chat.Manager
	rooms    *chat.Rooms
	presence *presence.Tracker
	log      *zap.Logger
}

func New(mgr *chat.Manager, rooms *chat.Rooms, tracker *presence.Tracker, log *zap.Logger) *Handler {
	return &Handler{mgr: mgr, rooms: rooms, presence: tracker, log: log.Named("http")}
}

// NotificationHandler GET /ws/notification/:room_name?token=
func (h *Handler) NotificationHandler(c *websocket.Conn) {
	var ident *chat.Identity
	if id, ok := c.Locals(identityKey).(chat.Identity); ok {
		ident = &id
	}
	route := c.Params("room_name")
	err := h.mgr.Serve(context.Background(), c, ident, route)
	if err != nil && !errors.Is(err, chat.ErrAuthenticationRequired) {
		h.log.Debug("session ended", zap.String("room", route), zap.Error(err))
	}
}

type roomResponse struct {
	RoomName     string         `json:"room_name"`
	RoomType     store.RoomType `json:"room_type"`
	Participants []string       `json:"participants"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toRoomResponse(r *store.Room) roomResponse {
	return roomResponse{
		RoomName:     r.Name,
		RoomType:     r.Type,
		Participants: r.Usernames(),
		CreatedAt:    r.CreatedAt,
	}
}

// CreatePrivateRoomHandler POST /api/rooms/private {"username": "..."}
func (h *Handler) CreatePrivateRoomHandler(c *fiber.Ctx) error {
	ident, _ := identityFrom(c)
	var req struct {
		Username string `json:"username"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	room, status, err := h.rooms.CreatePrivateRoom(c.UserContext(), ident, req.Username)
	if err != nil {
		return h.writeError(c, err)
	}
	code := fiber.StatusOK
	if status == chat.RoomCreated {
		code = fiber.StatusCreated
	}
	return c.Status(code).JSON(toRoomResponse(room))
}

// CreateGroupRoomHandler POST /api/rooms/group {"group_name": "...", "user_ids": [1,2] | "1,2"}
func (h *Handler) CreateGroupRoomHandler(c *fiber.Ctx) error {
	ident, _ := identityFrom(c)
	var req struct {
		GroupName string          `json:"group_name"`
		UserIDs   json.RawMessage `json:"user_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	ids, err := parseUserIDs(req.UserIDs)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	room, err := h.rooms.CreateGroupRoom(c.UserContext(), ident, req.GroupName, ids)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toRoomResponse(room))
}

// parseUserIDs accepts a JSON array of ids or a comma separated string.
func parseUserIDs(raw json.RawMessage) ([]uint, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []uint
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var csv string
	if err := json.Unmarshal(raw, &csv); err != nil {
		return nil, errors.New("user_ids must be a list or a comma separated string")
	}
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, errors.New("invalid user id: " + part)
		}
		list = append(list, uint(id))
	}
	return list, nil
}

// DeleteRoomHandler DELETE /api/rooms/:type/:room_name
func (h *Handler) DeleteRoomHandler(c *fiber.Ctx) error {
	ident, _ := identityFrom(c)
	typ := store.RoomType(c.Params("type"))
	if !typ.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "room type must be private or group"})
	}
	if err := h.rooms.DeleteRoom(c.UserContext(), ident, c.Params("room_name"), typ); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type messageResponse struct {
	ID        string       `json:"id"`
	Sender    string       `json:"sender"`
	Message   string       `json:"message"`
	RoomName  string       `json:"room_name"`
	MediaURL  string       `json:"media_url,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Status    store.Status `json:"status"`
}

// HistoryHandler GET /api/rooms/:room_name/messages
func (h *Handler) HistoryHandler(c *fiber.Ctx) error {
	ident, _ := identityFrom(c)
	msgs, err := h.rooms.History(c.UserContext(), ident, c.Params("room_name"))
	if err != nil {
		return h.writeError(c, err)
	}
	out := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		out = append(out, messageResponse{
			ID:        m.ID,
			Sender:    m.SenderName,
			Message:   m.Body,
			RoomName:  m.RoomName,
			MediaURL:  m.MediaURL,
			Timestamp: m.CreatedAt,
			Status:    m.DerivedStatus(),
		})
	}
	return c.JSON(out)
}

// PresenceHandler GET /api/presence/:username
func (h *Handler) PresenceHandler(c *fiber.Ctx) error {
	username := c.Params("username")
	p, err := h.presence.Lookup(c.UserContext(), username)
	if err != nil {
		return h.writeError(c, err)
	}
	resp := fiber.Map{
		"username":    p.Username,
		"online":      p.Online || h.presence.Online(p.Username),
		"connections": h.presence.Connections(p.Username),
	}
	if !p.LastSeen.IsZero() {
		resp["last_seen"] = p.LastSeen
	}
	return c.JSON(resp)
}

func (h *Handler) writeError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrMissingName), errors.Is(err, chat.ErrSelfChat), errors.Is(err, chat.ErrReservedName):
		code = fiber.StatusBadRequest
	case errors.Is(err, chat.ErrRoomNotFound), errors.Is(err, chat.ErrUserNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, chat.ErrDuplicateGroupName):
		code = fiber.StatusConflict
	case errors.Is(err, chat.ErrNotAParticipant):
		code = fiber.StatusForbidden
	}
	if code == fiber.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(code).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
