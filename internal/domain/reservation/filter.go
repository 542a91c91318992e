package reservation

import (
	"fmt"
	"slices"
	"time"
)

// Cursor is a keyset position in (interval start, id) order. A page built
// from a cursor holds only reservations strictly after it.
type Cursor struct {
	Start time.Time
	ID    ID
}

// Filter selects reservations. Every set field must match.
type Filter struct {
	ResourceID  string
	RequesterID string
	Statuses    []Status
	// Window keeps reservations whose interval overlaps it.
	Window *Interval

	After *Cursor
	Limit int
}

func (f Filter) Validate() error {
	for _, s := range f.Statuses {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown status %d", ErrInvalidReservation, int16(s))
		}
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0", ErrInvalidReservation)
	}
	return nil
}

// Match applies every predicate of f except paging.
func (f Filter) Match(r Reservation) bool {
	if f.ResourceID != "" && r.ResourceID != f.ResourceID {
		return false
	}
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.Window != nil && !Overlaps(r.Interval, *f.Window) {
		return false
	}
	return true
}

// Less is the canonical result order: interval start, then id.
func Less(a, b Reservation) bool {
	if !a.Interval.Start.Equal(b.Interval.Start) {
		return a.Interval.Start.Before(b.Interval.Start)
	}
	return a.ID < b.ID
}

// Compare is Less in the form slices.SortFunc expects.
func Compare(a, b Reservation) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	}
	return 0
}

// IsAfter reports whether r sorts strictly after c.
func (c Cursor) IsAfter(r Reservation) bool {
	if !r.Interval.Start.Equal(c.Start) {
		return r.Interval.Start.After(c.Start)
	}
	return r.ID > c.ID
}

func CursorOf(r Reservation) Cursor {
	return Cursor{Start: r.Interval.Start, ID: r.ID}
}

// Page is one slice of a query result. Next is nil on the last page.
type Page struct {
	Items []Reservation
	Next  *Cursor
}

// Scope selects reservations for GetReservations: a single id, or every
// reservation of a resource and/or requester.
type Scope struct {
	ID          ID
	ResourceID  string
	RequesterID string
}

func (s Scope) Empty() bool {
	return s.ID == 0 && s.ResourceID == "" && s.RequesterID == ""
}
