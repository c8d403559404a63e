package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pelusa-v/pelusa-chat/internal/events"
	"github.com/pelusa-v/pelusa-chat/internal/metrics"
	"github.com/pelusa-v/pelusa-chat/internal/store"
	"go.uber.org/zap"
)

type State int32

const (
	StateUnauthenticated State = iota
	StateJoining
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session drives one connection: Unauthenticated -> Joining -> Active -> Closed.
type Session struct {
	m      *Manager
	client *Client
	ident  *Identity
	room   string // "" on the global route
	log    *zap.Logger

	state      atomic.Int32
	writerDone chan struct{}
	closeOnce  sync.Once
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Client() *Client { return s.client }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run connects, reads until the transport fails, then disconnects.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	defer s.Disconnect(context.WithoutCancel(ctx))

	err := s.client.ReadPump(func(data []byte) { s.Receive(ctx, data) })
	s.log.Debug("transport closed", zap.Error(err))
	return nil
}

// Connect authenticates and joins the session's groups. Without an identity
// the transport is closed and ErrAuthenticationRequired returned. A stored
// room only admits its participants; a route naming a room that is not
// stored yet is joined as is.
func (s *Session) Connect(ctx context.Context) error {
	if s.ident == nil || s.ident.Username == "" {
		return s.reject(ErrAuthenticationRequired)
	}

	var room *store.Room
	if s.room != "" {
		found, err := s.m.store.GetRoomByName(ctx, s.room)
		switch {
		case errors.Is(err, store.ErrRoomNotFound):
			// 房间还没落库，照样加入
		case err != nil:
			s.persistFailed("get_room", err)
			return s.reject(persistErr("get_room", err))
		case !found.HasParticipant(s.ident.UserID):
			s.log.Warn("rejected non-participant")
			return s.reject(ErrNotAParticipant)
		default:
			room = found
		}
	}

	s.setState(StateJoining)
	s.m.hub.Join(PersonalGroup(s.ident.Username), s.client)
	if s.room != "" {
		s.m.hub.Join(RoomGroup(s.room), s.client)
	}
	s.setState(StateActive)

	go func() {
		defer close(s.writerDone)
		s.client.WritePump(func(ev Event) any { return s.render(ctx, ev) })
	}()

	if err := s.m.presence.Connect(ctx, s.ident.Username); err != nil {
		s.log.Warn("presence update failed", zap.Error(err))
	}
	if s.room != "" {
		s.markRoomRead(ctx, room)
	}
	s.log.Info("connected")
	return nil
}

func (s *Session) reject(err error) error {
	s.setState(StateClosed)
	_ = s.client.Conn.Close()
	return err
}

// markRoomRead flips the caller's unread messages and tells the room. The
// read event goes out even when nothing changed or room is not stored.
func (s *Session) markRoomRead(ctx context.Context, room *store.Room) {
	if room != nil {
		if _, err := s.m.store.MarkRead(ctx, room.ID, s.ident.UserID); err != nil {
			s.persistFailed("mark_read", err)
		}
	}
	s.m.hub.Broadcast(RoomGroup(s.room), ReadEvent{Username: s.ident.Username})
}

// Disconnect leaves every group before the transport is released. It only
// does work for sessions that got past authentication, and only once.
func (s *Session) Disconnect(ctx context.Context) {
	if s.State() != StateActive {
		return
	}
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.m.hub.Cleanup(s.client)

		offline, err := s.m.presence.Disconnect(ctx, s.ident.Username)
		if err != nil {
			s.log.Warn("presence update failed", zap.Error(err))
		}

		s.client.shutdown()
		<-s.writerDone
		_ = s.client.Conn.Close()
		s.log.Info("disconnected", zap.Bool("offline", offline))
	})
}

// Receive handles one inbound frame. Anything it cannot use is dropped
// without telling the client.
func (s *Session) Receive(ctx context.Context, data []byte) {
	if s.State() != StateActive || s.room == "" {
		return
	}
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Debug("ignoring malformed payload", zap.Error(err))
		return
	}
	if in.RoomName != "" && normalizeRoom(in.RoomName) != s.room {
		s.log.Debug("ignoring payload for another room", zap.String("room_name", in.RoomName))
		return
	}

	for _, it := range classify(in) {
		switch it := it.(type) {
		case typingIntent:
			s.m.hub.Broadcast(RoomGroup(s.room), TypingEvent{Username: s.ident.Username, Status: it.status})
		case deleteIntent:
			s.deleteMessage(ctx, it)
		case chatIntent:
			s.sendChat(ctx, it)
		}
	}
}

// intent is the closed set of actions an inbound frame can ask for.
type intent interface{ isIntent() }

type typingIntent struct{ status string }

// deleteIntent with apply=false carries a scope the store does not know; it
// is only relayed to clients.
type deleteIntent struct {
	messageID string
	scope     store.DeleteScope
	apply     bool
}

type chatIntent struct{ body, mediaURL string }

func (typingIntent) isIntent() {}
func (deleteIntent) isIntent() {}
func (chatIntent) isIntent()   {}

// classify applies the dispatch order: typing first, then delete, then chat.
// Typing without a message ends there, and a delete never carries a chat.
func classify(in Inbound) []intent {
	var out []intent
	if in.Typing == TypingStart || in.Typing == TypingStop {
		out = append(out, typingIntent{status: in.Typing})
		if in.Message == "" {
			return out
		}
	}
	switch {
	case in.DeleteMessageID != "":
		scope, ok := parseScope(in.DeleteFor)
		if !ok {
			scope = store.DeleteScope(in.DeleteFor)
		}
		return append(out, deleteIntent{messageID: in.DeleteMessageID, scope: scope, apply: ok})
	case in.Message != "":
		return append(out, chatIntent{body: in.Message, mediaURL: in.MediaURL})
	}
	return out
}

func parseScope(v string) (store.DeleteScope, bool) {
	switch store.DeleteScope(v) {
	case "", store.DeleteForMe:
		return store.DeleteForMe, true
	case store.DeleteForEveryone:
		return store.DeleteForEveryone, true
	}
	return "", false
}

// sendChat persists the message once and only then fans it out with its id
// and timestamp.
func (s *Session) sendChat(ctx context.Context, it chatIntent) {
	room, err := s.m.store.GetRoomByName(ctx, s.room)
	if err != nil {
		s.persistFailed("get_room", err)
		return
	}
	if !room.HasParticipant(s.ident.UserID) {
		s.log.Debug("dropping chat from non-participant")
		return
	}
	msg, err := s.m.store.CreateMessage(ctx, room.ID, s.ident.UserID, it.body, it.mediaURL)
	if err != nil {
		s.persistFailed("create_message", err)
		return
	}
	metrics.MessagesPersisted.Inc()

	s.m.hub.Broadcast(RoomGroup(s.room), ChatEvent{
		MessageID: msg.ID,
		Sender:    s.ident.Username,
		Body:      msg.Body,
		RoomName:  room.Name,
		MediaURL:  msg.MediaURL,
		Timestamp: msg.CreatedAt,
	})
	s.publish(ctx, events.Event{
		Type:      events.MessageCreated,
		Room:      room.Name,
		RoomType:  string(room.Type),
		Actor:     s.ident.Username,
		MessageID: msg.ID,
		At:        msg.CreatedAt,
	})
}

// deleteMessage applies what the store allows and always relays the delete
// to the room. A refused delete-for-everyone falls back to delete-for-me.
func (s *Session) deleteMessage(ctx context.Context, it deleteIntent) {
	scope := it.scope
	if it.apply {
		err := s.m.store.DeleteMessageFor(ctx, it.messageID, s.ident.UserID, scope)
		if errors.Is(err, store.ErrNotSender) {
			scope = store.DeleteForMe
			err = s.m.store.DeleteMessageFor(ctx, it.messageID, s.ident.UserID, scope)
		}
		switch {
		case errors.Is(err, store.ErrMessageNotFound):
			s.log.Debug("deleting unknown message", zap.String("message_id", it.messageID))
		case err != nil:
			s.persistFailed("delete_message", err, zap.String("message_id", it.messageID))
			return
		}
	}
	s.m.hub.Broadcast(RoomGroup(s.room), DeleteEvent{
		MessageID: it.messageID,
		Scope:     scope,
		Sender:    s.ident.Username,
	})
}

func (s *Session) publish(ctx context.Context, ev events.Event) {
	if err := s.m.events.Publish(ctx, ev); err != nil {
		s.log.Warn("event publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (s *Session) persistFailed(op string, err error, fields ...zap.Field) {
	metrics.PersistenceErrors.WithLabelValues(op).Inc()
	s.log.Error("store call failed", append(fields, zap.String("op", op), zap.Error(persistErr(op, err)))...)
}
