package errors

import (
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"
)

// Domain errors for the matchmaking core. Repositories and services return
// these (or wrap them); the HTTP layer maps them in one place via Status.
var (
	// ErrBanned is terminal: the identity may not enter the waiting pool.
	ErrBanned = errors.New("identity is banned from matching")

	// ErrNotFound covers missing identities and sessions.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized means the caller is not a participant of the session.
	ErrUnauthorized = errors.New("caller is not a session participant")

	// ErrRaceLost is internal only: a conditional claim found the entry
	// already claimed by a concurrent caller. Never surfaced to clients;
	// the matcher skips to the next candidate or falls back to enqueueing.
	ErrRaceLost = errors.New("claim lost to a concurrent caller")

	// ErrInvalidArgument covers malformed client input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Status converts repo/service errors into an HTTP status code.
// Keeps handlers clean by centralizing the mapping.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrBanned):
		return http.StatusForbidden

	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden

	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout

	default:
		return http.StatusInternalServerError
	}
}

// InvalidArgument wraps a validation message in ErrInvalidArgument.
func InvalidArgument(msg string) error {
	return Wrap(ErrInvalidArgument, msg)
}

// Wrap attaches a human-readable message while keeping errors.Is matching.
func Wrap(sentinel error, msg string) error {
	return &wrapped{sentinel: sentinel, msg: msg}
}

type wrapped struct {
	sentinel error
	msg      string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.sentinel }
