package chat

import (
	"context"

	"github.com/pelusa-v/pelusa-chat/internal/store"
	"go.uber.org/zap"
)

// render handles one inbox event for this connection and returns the frame
// for its client, or nil when the client should not see it.
func (s *Session) render(ctx context.Context, ev Event) any {
	switch ev := ev.(type) {
	case ChatEvent:
		return s.renderChat(ctx, ev)
	case DeleteEvent:
		return deleteFrame{DeleteMessageID: ev.MessageID, DeleteFor: ev.Scope, Sender: ev.Sender}
	case TypingEvent:
		if ev.Username == s.ident.Username {
			return nil
		}
		return typingFrame{Typing: typingPayload{Username: ev.Username, Status: ev.Status}}
	case ReadEvent:
		if ev.Username == s.ident.Username {
			return nil
		}
		return readFrame{Read: readPayload{Username: ev.Username}}
	case NewGroupEvent:
		return newGroupFrame{NewGroup: ev.Group}
	}
	return nil
}

// renderChat acknowledges delivery for everyone but the sender. If the ack
// cannot be stored, this connection skips the message.
func (s *Session) renderChat(ctx context.Context, ev ChatEvent) any {
	if ev.Sender != s.ident.Username {
		if _, err := s.m.store.MarkDelivered(ctx, ev.MessageID, s.ident.UserID); err != nil {
			s.persistFailed("mark_delivered", err, zap.String("message_id", ev.MessageID))
			return nil
		}
	}
	return chatFrame{Message: chatPayload{
		ID:        ev.MessageID,
		Sender:    ev.Sender,
		Message:   ev.Body,
		RoomName:  ev.RoomName,
		MediaURL:  ev.MediaURL,
		Timestamp: formatTimestamp(ev.Timestamp),
		Status:    store.StatusDelivered,
	}}
}
