package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrRoomExists      = errors.New("room already exists")
	ErrNotSender       = errors.New("only the sender can delete a message for everyone")
)

type RoomType string

const (
	RoomPrivate RoomType = "private"
	RoomGroup   RoomType = "group"
)

func (t RoomType) Valid() bool { return t == RoomPrivate || t == RoomGroup }

// Status 只会前进：sent -> delivered -> read
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return 0
}

// AtLeast reports whether s is the same as or beyond o.
func (s Status) AtLeast(o Status) bool { return s.rank() >= o.rank() }

type DeleteScope string

const (
	DeleteForMe       DeleteScope = "me"
	DeleteForEveryone DeleteScope = "everyone"
)

type User struct {
	ID       uint
	Username string
}

type Room struct {
	ID           uint
	Name         string
	Type         RoomType
	Participants []User
	CreatedAt    time.Time
}

// HasParticipant reports whether userID is one of the room's participants.
func (r *Room) HasParticipant(userID uint) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func (r *Room) Usernames() []string {
	out := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		out = append(out, p.Username)
	}
	return out
}

type Message struct {
	ID          string
	RoomID      uint
	RoomName    string
	SenderID    uint
	SenderName  string
	Body        string
	MediaURL    string
	CreatedAt   time.Time
	Status      Status
	DeliveredBy []uint
	ReadBy      []uint
	DeletedFor  []uint
}

// DerivedStatus computes the status from the receipt sets.
func (m *Message) DerivedStatus() Status {
	switch {
	case len(m.ReadBy) > 0:
		return StatusRead
	case len(m.DeliveredBy) > 0:
		return StatusDelivered
	}
	return StatusSent
}

type Presence struct {
	Username string
	Online   bool
	LastSeen time.Time
}

// MessageStore is the durable side of the chat core.
type MessageStore interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUsersByIDs(ctx context.Context, ids []uint) ([]User, error)

	GetRoomByName(ctx context.Context, name string) (*Room, error)
	FindRoom(ctx context.Context, name string, typ RoomType) (*Room, error)
	FindPrivateRoom(ctx context.Context, a, b uint) (*Room, error)
	CreateRoom(ctx context.Context, name string, typ RoomType, participantIDs []uint) (*Room, error)
	DeleteRoom(ctx context.Context, roomID uint) error

	CreateMessage(ctx context.Context, roomID, senderID uint, body, mediaURL string) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	MarkDelivered(ctx context.Context, messageID string, userID uint) (*Message, error)
	MarkRead(ctx context.Context, roomID, readerID uint) (int64, error)
	DeleteMessageFor(ctx context.Context, messageID string, requesterID uint, scope DeleteScope) error
	ListMessages(ctx context.Context, roomID, viewerID uint) ([]Message, error)
}
