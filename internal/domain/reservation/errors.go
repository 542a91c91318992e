package reservation

import (
	"errors"

	"github.com/example/rsvpd/internal/internaltypes"
)

var (
	ErrInvalidTime             = errors.New("invalid time")
	ErrConflict                = errors.New("reservation conflict")
	ErrNotFound                = internaltypes.ErrNotFound
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrBackendUnavailable      = errors.New("backend unavailable")

	// ErrInvalidReservation covers malformed input that is not a time problem:
	// missing identifiers, unknown statuses, bad paging arguments.
	ErrInvalidReservation = errors.New("invalid reservation")
)

// Kind returns a short stable name for the error kind of err, or "" when err
// does not carry one of the package sentinels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTime):
		return "invalid_time"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidStatusTransition):
		return "invalid_status_transition"
	case errors.Is(err, ErrInvalidReservation):
		return "invalid_reservation"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	}
	return ""
}
