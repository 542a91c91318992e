package reservation

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a reservation. The numeric values are
// persisted and must not be renumbered.
type Status int16

const (
	StatusUnknown Status = iota
	StatusPending
	StatusConfirmed
	StatusCancelled
	StatusCompleted
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusConfirmed: "confirmed",
	StatusCancelled: "cancelled",
	StatusCompleted: "completed",
}

// ActiveStatuses occupy their resource for conflict purposes.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int16(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Active reports whether a reservation in this status blocks its interval.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: unknown status %d", ErrInvalidReservation, int16(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus maps a wire name to a Status. Matching is case-insensitive.
func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for s, n := range statusNames {
		if n == v {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: unknown status %q", ErrInvalidReservation, v)
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

// Next validates the transition current -> requested and returns requested.
func Next(current, requested Status) (Status, error) {
	for _, s := range transitions[current] {
		if s == requested {
			return requested, nil
		}
	}
	return current, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current, requested)
}
