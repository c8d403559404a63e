package chat

import (
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/store"
)

const (
	TypingStart = "start"
	TypingStop  = "stop"
)

// Inbound is what a client sends over the socket. Every field is optional.
type Inbound struct {
	Message         string `json:"message"`
	RoomName        string `json:"room_name"`
	MediaURL        string `json:"media_url"`
	DeleteMessageID string `json:"delete_message_id"`
	DeleteFor       string `json:"delete_for"`
	Typing          string `json:"typing"`
}

// outbound frames, one per event kind

type chatFrame struct {
	Message chatPayload `json:"message"`
}

type chatPayload struct {
	ID        string       `json:"id"`
	Sender    string       `json:"sender"`
	Message   string       `json:"message"`
	RoomName  string       `json:"room_name"`
	MediaURL  string       `json:"media_url"`
	Timestamp string       `json:"timestamp"`
	Status    store.Status `json:"status"`
}

type deleteFrame struct {
	DeleteMessageID string            `json:"delete_message_id"`
	DeleteFor       store.DeleteScope `json:"delete_for"`
	Sender          string            `json:"sender"`
}

type typingFrame struct {
	Typing typingPayload `json:"typing"`
}

type typingPayload struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

type readFrame struct {
	Read readPayload `json:"read"`
}

type readPayload struct {
	Username string `json:"username"`
}

type newGroupFrame struct {
	NewGroup GroupDescriptor `json:"new_group"`
}

// GroupDescriptor describes a freshly created group to its members.
type GroupDescriptor struct {
	RoomName     string         `json:"room_name"`
	RoomType     store.RoomType `json:"room_type"`
	Participants []string       `json:"participants"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
