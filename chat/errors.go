package chat

import (
	"errors"
	"strings"
)

var (
	ErrConflict       = errors.New("participant already exists")
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("only the sender can delete a message")
	ErrNotParticipant = errors.New("you are not logged in, join the room and try again")
)

// ValidationError carries every failed field check of a request, not only the first one.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}
