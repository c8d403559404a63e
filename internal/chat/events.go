package chat

import (
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/store"
)

// Event is what the hub fans out to connection inboxes. The set is closed:
// ChatEvent, DeleteEvent, TypingEvent, ReadEvent and NewGroupEvent.
type Event interface {
	kind() string
}

// ChatEvent refers to a message that has already been persisted.
type ChatEvent struct {
	MessageID string
	Sender    string
	Body      string
	RoomName  string
	MediaURL  string
	Timestamp time.Time
}

type DeleteEvent struct {
	MessageID string
	Scope     store.DeleteScope
	Sender    string
}

type TypingEvent struct {
	Username string
	Status   string
}

type ReadEvent struct {
	Username string
}

type NewGroupEvent struct {
	Group GroupDescriptor
}

func (ChatEvent) kind() string     { return "chat" }
func (DeleteEvent) kind() string   { return "delete" }
func (TypingEvent) kind() string   { return "typing" }
func (ReadEvent) kind() string     { return "read" }
func (NewGroupEvent) kind() string { return "new_group" }
