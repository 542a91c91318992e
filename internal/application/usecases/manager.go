package usecases

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/example/rsvpd/internal/domain/reservation"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Manager is the single entry point for reading and mutating reservations.
// It validates input before touching the store and leaves mutual exclusion
// to the store's atomic Insert/UpdateStatus.
type Manager struct {
	Store  reservation.Store
	Logger *slog.Logger

	DefaultPageSize int
	MaxPageSize     int
}

func NewManager(store reservation.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		Store:           store,
		Logger:          logger,
		DefaultPageSize: DefaultPageSize,
		MaxPageSize:     MaxPageSize,
	}
}

// Reserve books candidate's interval on its resource in Pending status.
func (m *Manager) Reserve(ctx context.Context, c reservation.Candidate) (reservation.Reservation, error) {
	r, err := c.Normalize()
	if err != nil {
		return reservation.Reservation{}, err
	}
	out, err := m.Store.Insert(ctx, r)
	if err != nil {
		if errors.Is(err, reservation.ErrConflict) {
			m.Logger.Debug("reservation conflict",
				"resource_id", r.ResourceID, "requester_id", r.RequesterID, "interval", r.Interval.String(), "error", err)
		}
		return reservation.Reservation{}, err
	}
	m.Logger.Info("reservation created",
		"id", out.ID, "resource_id", out.ResourceID, "requester_id", out.RequesterID, "interval", out.Interval.String())
	return out, nil
}

// ChangeStatus moves reservation id to requested if the state machine allows
// it. Moving to Cancelled or Completed frees the interval.
func (m *Manager) ChangeStatus(ctx context.Context, id reservation.ID, requested reservation.Status) (reservation.Reservation, error) {
	var from reservation.Status
	out, err := m.Store.UpdateStatus(ctx, id, func(cur reservation.Status) (reservation.Status, error) {
		from = cur
		return reservation.Next(cur, requested)
	})
	if err != nil {
		return reservation.Reservation{}, err
	}
	m.Logger.Info("status changed", "id", id, "from", from.String(), "to", out.Status.String())
	return out, nil
}

func (m *Manager) UpdateNote(ctx context.Context, id reservation.ID, note string) (reservation.Reservation, error) {
	out, err := m.Store.UpdateNote(ctx, id, note)
	if err != nil {
		return reservation.Reservation{}, err
	}
	m.Logger.Info("note updated", "id", id)
	return out, nil
}

func (m *Manager) Get(ctx context.Context, id reservation.ID) (reservation.Reservation, error) {
	return m.Store.Get(ctx, id)
}

// GetReservations returns the reservations selected by scope. A scope naming
// an id yields exactly that reservation or ErrNotFound; other scopes may
// yield an empty result.
func (m *Manager) GetReservations(ctx context.Context, scope reservation.Scope) ([]reservation.Reservation, error) {
	if scope.Empty() {
		return nil, fmt.Errorf("%w: scope requires an id, resource_id or requester_id", reservation.ErrInvalidReservation)
	}
	f := reservation.Filter{ResourceID: scope.ResourceID, RequesterID: scope.RequesterID}

	if scope.ID != 0 {
		r, err := m.Store.Get(ctx, scope.ID)
		if err != nil {
			return nil, err
		}
		if !f.Match(r) {
			return nil, fmt.Errorf("reservation %d in scope: %w", scope.ID, reservation.ErrNotFound)
		}
		return []reservation.Reservation{r}, nil
	}

	out := make([]reservation.Reservation, 0)
	for r, err := range m.All(ctx, f) {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Delete removes the reservation whatever its status.
func (m *Manager) Delete(ctx context.Context, id reservation.ID) error {
	if err := m.Store.Delete(ctx, id); err != nil {
		return err
	}
	m.Logger.Info("reservation deleted", "id", id)
	return nil
}

func (m *Manager) pageSize(limit int) int {
	size := limit
	if size == 0 {
		size = m.DefaultPageSize
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if m.MaxPageSize > 0 && size > m.MaxPageSize {
		size = m.MaxPageSize
	}
	return size
}

// Query returns one page of reservations matching f, in (start, id) order.
// f.Limit is the page size; zero selects the default.
func (m *Manager) Query(ctx context.Context, f reservation.Filter) (reservation.Page, error) {
	if err := f.Validate(); err != nil {
		return reservation.Page{}, err
	}
	size := m.pageSize(f.Limit)
	f.Limit = size + 1

	items, err := m.Store.Query(ctx, f)
	if err != nil {
		return reservation.Page{}, err
	}
	page := reservation.Page{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		next := reservation.CursorOf(page.Items[size-1])
		page.Next = &next
	}
	return page, nil
}

// All iterates every reservation matching f, fetching pages of f.Limit on
// demand. Iteration stops at the first error, which is yielded once.
func (m *Manager) All(ctx context.Context, f reservation.Filter) iter.Seq2[reservation.Reservation, error] {
	return func(yield func(reservation.Reservation, error) bool) {
		for {
			page, err := m.Query(ctx, f)
			if err != nil {
				yield(reservation.Reservation{}, err)
				return
			}
			for _, r := range page.Items {
				if !yield(r, nil) {
					return
				}
			}
			if page.Next == nil {
				return
			}
			f.After = page.Next
		}
	}
}

func (m *Manager) Ping(ctx context.Context) error { return m.Store.Ping(ctx) }
