package chat

import (
	"errors"
	"fmt"

	"github.com/pelusa-v/pelusa-chat/internal/store"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrSelfChat               = errors.New("you cannot chat with yourself")
	ErrDuplicateGroupName     = errors.New("a group with this name already exists")
	ErrMissingName            = errors.New("name is required")
	ErrNotAParticipant        = errors.New("not a participant of this room")
	ErrReservedName           = errors.New("room name is reserved")

	ErrRoomNotFound = store.ErrRoomNotFound
	ErrUserNotFound = store.ErrUserNotFound
)

// PersistenceError marks a failed store call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
