package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pelusa-v/pelusa-chat/internal/events"
	"github.com/pelusa-v/pelusa-chat/internal/store"
	"go.uber.org/zap"
)

type RoomStatus string

const (
	RoomCreated RoomStatus = "created"
	RoomExists  RoomStatus = "exists"
)

// Rooms creates and deletes rooms and tells members about new groups.
type Rooms struct {
	store  store.MessageStore
	hub    *Hub
	events events.Publisher
	log    *zap.Logger

	// 串行化创建，避免同名房间重复插入
	mu sync.Mutex
}

func NewRooms(st store.MessageStore, hub *Hub, pub events.Publisher, log *zap.Logger) *Rooms {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Rooms{store: st, hub: hub, events: pub, log: log.Named("rooms")}
}

const privateRoomPrefix = "private_"

// PrivateRoomName is the same for (a, b) and (b, a).
func PrivateRoomName(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%d_%d", privateRoomPrefix, a, b)
}

// reservedGroupName reports names a group may not take: the global route and
// anything in the private room namespace.
func reservedGroupName(name string) bool {
	lower := strings.ToLower(name)
	return lower == GlobalRoute || strings.HasPrefix(lower, privateRoomPrefix)
}

// CreatePrivateRoom returns the private room between requester and the named
// user, creating it on first use.
func (r *Rooms) CreatePrivateRoom(ctx context.Context, requester Identity, otherUsername string) (*store.Room, RoomStatus, error) {
	other := strings.ToLower(strings.TrimSpace(otherUsername))
	if other == "" {
		return nil, "", ErrMissingName
	}
	if strings.EqualFold(other, requester.Username) {
		return nil, "", ErrSelfChat
	}
	user, err := r.store.GetUserByUsername(ctx, other)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, "", ErrUserNotFound
		}
		return nil, "", persistErr("get_user", err)
	}
	if user.ID == requester.UserID {
		return nil, "", ErrSelfChat
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.store.FindPrivateRoom(ctx, requester.UserID, user.ID)
	if err == nil {
		return room, RoomExists, nil
	}
	if !errors.Is(err, store.ErrRoomNotFound) {
		return nil, "", persistErr("find_private_room", err)
	}

	name := PrivateRoomName(requester.UserID, user.ID)
	room, err = r.store.CreateRoom(ctx, name, store.RoomPrivate, []uint{requester.UserID, user.ID})
	if errors.Is(err, store.ErrRoomExists) {
		// 其他实例抢先创建了
		existing, findErr := r.store.FindRoom(ctx, name, store.RoomPrivate)
		if findErr != nil {
			return nil, "", persistErr("create_room", err)
		}
		return existing, RoomExists, nil
	}
	if err != nil {
		return nil, "", persistErr("create_room", err)
	}

	r.evictStrangers(room)
	r.log.Info("private room created", zap.String("room", room.Name), zap.String("by", requester.Username))
	r.publish(ctx, events.Event{
		Type:         events.RoomCreated,
		Room:         room.Name,
		RoomType:     string(room.Type),
		Actor:        requester.Username,
		Participants: room.Usernames(),
	})
	return room, RoomCreated, nil
}

// CreateGroupRoom creates a group of requester plus the members that exist,
// then pushes the group to every participant's personal group.
func (r *Rooms) CreateGroupRoom(ctx context.Context, requester Identity, groupName string, memberIDs []uint) (*store.Room, error) {
	name := strings.TrimSpace(groupName)
	if name == "" {
		return nil, ErrMissingName
	}
	if reservedGroupName(name) {
		return nil, ErrReservedName
	}

	r.mu.Lock()
	room, err := r.createGroup(ctx, requester, name, memberIDs)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.evictStrangers(room)
	ev := NewGroupEvent{Group: GroupDescriptor{
		RoomName:     room.Name,
		RoomType:     room.Type,
		Participants: room.Usernames(),
	}}
	notified := map[string]bool{}
	for _, u := range append([]string{requester.Username}, room.Usernames()...) {
		if notified[u] {
			continue
		}
		notified[u] = true
		r.hub.Broadcast(PersonalGroup(u), ev)
	}

	r.log.Info("group room created",
		zap.String("room", room.Name),
		zap.String("by", requester.Username),
		zap.Int("participants", len(room.Participants)))
	r.publish(ctx, events.Event{
		Type:         events.RoomCreated,
		Room:         room.Name,
		RoomType:     string(room.Type),
		Actor:        requester.Username,
		Participants: room.Usernames(),
	})
	return room, nil
}

func (r *Rooms) createGroup(ctx context.Context, requester Identity, name string, memberIDs []uint) (*store.Room, error) {
	_, err := r.store.FindRoom(ctx, name, store.RoomGroup)
	if err == nil {
		return nil, ErrDuplicateGroupName
	}
	if !errors.Is(err, store.ErrRoomNotFound) {
		return nil, persistErr("find_room", err)
	}

	members, err := r.store.GetUsersByIDs(ctx, memberIDs)
	if err != nil {
		return nil, persistErr("get_users", err)
	}
	ids := []uint{requester.UserID}
	for _, m := range members {
		if m.ID != requester.UserID {
			ids = append(ids, m.ID)
		}
	}

	room, err := r.store.CreateRoom(ctx, name, store.RoomGroup, ids)
	if errors.Is(err, store.ErrRoomExists) {
		return nil, ErrDuplicateGroupName
	}
	if err != nil {
		return nil, persistErr("create_room", err)
	}
	return room, nil
}

// DeleteRoom removes a room of the given type, with its messages. Any
// participant may delete it.
func (r *Rooms) DeleteRoom(ctx context.Context, requester Identity, roomName string, typ store.RoomType) error {
	room, err := r.store.FindRoom(ctx, strings.TrimSpace(roomName), typ)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return persistErr("find_room", err)
	}
	if !room.HasParticipant(requester.UserID) {
		return ErrNotAParticipant
	}
	if err := r.store.DeleteRoom(ctx, room.ID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return persistErr("delete_room", err)
	}

	r.log.Info("room deleted", zap.String("room", room.Name), zap.String("by", requester.Username))
	r.publish(ctx, events.Event{
		Type:     events.RoomDeleted,
		Room:     room.Name,
		RoomType: string(room.Type),
		Actor:    requester.Username,
	})
	return nil
}

// History lists the room's messages as requester sees them.
func (r *Rooms) History(ctx context.Context, requester Identity, roomName string) ([]store.Message, error) {
	room, err := r.store.GetRoomByName(ctx, strings.TrimSpace(roomName))
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, persistErr("get_room", err)
	}
	if !room.HasParticipant(requester.UserID) {
		return nil, ErrNotAParticipant
	}
	msgs, err := r.store.ListMessages(ctx, room.ID, requester.UserID)
	if err != nil {
		return nil, persistErr("list_messages", err)
	}
	return msgs, nil
}

// evictStrangers removes connections that joined the room's route before the
// room was stored and are not among its participants.
func (r *Rooms) evictStrangers(room *store.Room) {
	dropped := r.hub.Retain(RoomGroup(room.Name), func(c *Client) bool {
		return room.HasParticipant(c.UserID)
	})
	if len(dropped) > 0 {
		r.log.Info("evicted non-participants", zap.String("room", room.Name), zap.Strings("conns", dropped))
	}
}

func (r *Rooms) publish(ctx context.Context, ev events.Event) {
	if err := r.events.Publish(ctx, ev); err != nil {
		r.log.Warn("event publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
