package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ID is assigned by the store on creation and never changes.
type ID int64

type Reservation struct {
	ID          ID
	RequesterID string
	ResourceID  string
	Interval    Interval
	Note        string
	Status      Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reservation) Active() bool { return r.Status.Active() }

// Candidate is a booking request before validation.
type Candidate struct {
	RequesterID string
	ResourceID  string
	Start       time.Time
	End         time.Time
	Note        string
}

// Normalize validates the candidate and returns the Pending reservation that
// should be handed to the store. Time problems are reported before identifier
// problems.
func (c Candidate) Normalize() (Reservation, error) {
	iv, err := NewInterval(c.Start, c.End)
	if err != nil {
		return Reservation{}, err
	}
	requester := strings.TrimSpace(c.RequesterID)
	resource := strings.TrimSpace(c.ResourceID)
	if requester == "" {
		return Reservation{}, fmt.Errorf("%w: requester_id is required", ErrInvalidReservation)
	}
	if resource == "" {
		return Reservation{}, fmt.Errorf("%w: resource_id is required", ErrInvalidReservation)
	}
	return Reservation{
		RequesterID: requester,
		ResourceID:  resource,
		Interval:    iv,
		Note:        c.Note,
		Status:      StatusPending,
	}, nil
}

// TransitionFunc computes the new status from the current one. Stores call it
// while holding whatever lock or row lock protects the record.
type TransitionFunc func(current Status) (Status, error)

// Store is the persistence port. Implementations own the conflict guarantee:
// Insert must check for an overlapping active reservation on the same
// resource and insert as one atomic step.
type Store interface {
	Insert(ctx context.Context, r Reservation) (Reservation, error)
	Get(ctx context.Context, id ID) (Reservation, error)
	UpdateStatus(ctx context.Context, id ID, fn TransitionFunc) (Reservation, error)
	UpdateNote(ctx context.Context, id ID, note string) (Reservation, error)
	Delete(ctx context.Context, id ID) error
	Query(ctx context.Context, f Filter) ([]Reservation, error)
	Ping(ctx context.Context) error
	Close() error
}
