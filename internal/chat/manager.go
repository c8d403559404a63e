package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/pelusa-v/pelusa-chat/internal/events"
	"github.com/pelusa-v/pelusa-chat/internal/presence"
	"github.com/pelusa-v/pelusa-chat/internal/store"
	"go.uber.org/zap"
)

// Identity is the authenticated caller of a connection or request.
type Identity struct {
	UserID   uint
	Username string
}

// Manager holds the services shared by every connection session.
type Manager struct {
	hub        *Hub
	store      store.MessageStore
	presence   *presence.Tracker
	events     events.Publisher
	log        *zap.Logger
	sendBuffer int
}

func NewManager(hub *Hub, st store.MessageStore, tracker *presence.Tracker, pub events.Publisher, log *zap.Logger, sendBuffer int) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{
		hub:        hub,
		store:      st,
		presence:   tracker,
		events:     pub,
		log:        log,
		sendBuffer: sendBuffer,
	}
}

func (m *Manager) Hub() *Hub { return m.hub }

// NewSession wraps conn in a session addressed to route. ident is nil for
// unauthenticated callers.
func (m *Manager) NewSession(conn ConnLike, ident *Identity, route string) *Session {
	var (
		userID uint
		name   string
	)
	if ident != nil {
		userID, name = ident.UserID, ident.Username
	}
	c := NewClient(uuid.NewString(), userID, name, conn, m.sendBuffer)
	room := normalizeRoom(route)
	return &Session{
		m:          m,
		client:     c,
		ident:      ident,
		room:       room,
		writerDone: make(chan struct{}),
		log: m.log.Named("session").With(
			zap.String("conn", c.Id),
			zap.String("user", name),
			zap.String("room", route)),
	}
}

// Serve runs a session on conn until the transport closes.
func (m *Manager) Serve(ctx context.Context, conn ConnLike, ident *Identity, route string) error {
	return m.NewSession(conn, ident, route).Run(ctx)
}
