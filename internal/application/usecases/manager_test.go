package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rsvpd/internal/domain/reservation"
	"github.com/example/rsvpd/internal/infrastructure/memory"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time {
	d, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return day.Add(time.Duration(d.Hour())*time.Hour + time.Duration(d.Minute())*time.Minute)
}

func candidate(requester, resource, start, end string) reservation.Candidate {
	return reservation.Candidate{RequesterID: requester, ResourceID: resource, Start: at(start), End: at(end)}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(memory.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Booking walkthrough: overlap rejected, boundary touch allowed, cancellation
// frees the slot.
func TestManager_Scenario(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	first, err := m.Reserve(ctx, candidate("U1", "R1", "09:00", "10:00"))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPending, first.Status)
	assert.NotZero(t, first.ID)

	_, err = m.Reserve(ctx, candidate("U2", "R1", "09:30", "10:30"))
	require.ErrorIs(t, err, reservation.ErrConflict)

	touching, err := m.Reserve(ctx, candidate("U2", "R1", "10:00", "11:00"))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPending, touching.Status)

	cancelled, err := m.ChangeStatus(ctx, first.ID, reservation.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, cancelled.Status)

	_, err = m.Reserve(ctx, candidate("U2", "R1", "09:00", "09:45"))
	require.NoError(t, err)
}

func TestManager_ReserveValidation(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: memory.New()}
	m := NewManager(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name string
		c    reservation.Candidate
		want error
	}{
		{"zero length", candidate("u", "r", "09:00", "09:00"), reservation.ErrInvalidTime},
		{"reversed", candidate("u", "r", "10:00", "09:00"), reservation.ErrInvalidTime},
		{"missing start", reservation.Candidate{RequesterID: "u", ResourceID: "r", End: at("10:00")}, reservation.ErrInvalidTime},
		{"missing requester", candidate(" ", "r", "09:00", "10:00"), reservation.ErrInvalidReservation},
		{"missing resource", candidate("u", "", "09:00", "10:00"), reservation.ErrInvalidReservation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Reserve(ctx, tt.c)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, store.inserts, "invalid candidates must not reach the store")
}

func TestManager_ReserveNormalizes(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	loc := time.FixedZone("UTC+2", 2*3600)

	r, err := m.Reserve(ctx, reservation.Candidate{
		RequesterID: " u1 ",
		ResourceID:  "r1",
		Start:       time.Date(2026, 3, 2, 11, 0, 0, 123, loc),
		End:         time.Date(2026, 3, 2, 12, 0, 0, 0, loc),
		Note:        "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", r.RequesterID)
	assert.Equal(t, at("09:00"), r.Interval.Start)
	assert.Equal(t, at("10:00"), r.Interval.End)
	assert.Equal(t, "hello", r.Note)
}

func TestManager_ChangeStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	legal := [][]reservation.Status{
		{reservation.StatusConfirmed},
		{reservation.StatusCancelled},
		{reservation.StatusConfirmed, reservation.StatusCancelled},
		{reservation.StatusConfirmed, reservation.StatusCompleted},
	}
	for i, path := range legal {
		r, err := m.Reserve(ctx, candidate("u", fmt.Sprintf("legal-%d", i), "09:00", "10:00"))
		require.NoError(t, err)
		for _, s := range path {
			got, err := m.ChangeStatus(ctx, r.ID, s)
			require.NoError(t, err, "path %v", path)
			assert.Equal(t, s, got.Status)
		}
	}

	r, err := m.Reserve(ctx, candidate("u", "illegal", "09:00", "10:00"))
	require.NoError(t, err)
	for _, s := range []reservation.Status{reservation.StatusPending, reservation.StatusCompleted, reservation.StatusUnknown, reservation.Status(9)} {
		_, err := m.ChangeStatus(ctx, r.ID, s)
		assert.ErrorIs(t, err, reservation.ErrInvalidStatusTransition, "pending -> %s", s)
	}

	_, err = m.ChangeStatus(ctx, r.ID, reservation.StatusCancelled)
	require.NoError(t, err)
	for _, s := range []reservation.Status{reservation.StatusPending, reservation.StatusConfirmed, reservation.StatusCancelled, reservation.StatusCompleted} {
		_, err := m.ChangeStatus(ctx, r.ID, s)
		assert.ErrorIs(t, err, reservation.ErrInvalidStatusTransition, "cancelled -> %s", s)
	}

	_, err = m.ChangeStatus(ctx, 999, reservation.StatusConfirmed)
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestManager_CompletedFreesInterval(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	r, err := m.Reserve(ctx, candidate("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)
	_, err = m.ChangeStatus(ctx, r.ID, reservation.StatusConfirmed)
	require.NoError(t, err)
	_, err = m.Reserve(ctx, candidate("u2", "r1", "09:00", "10:00"))
	require.ErrorIs(t, err, reservation.ErrConflict)

	_, err = m.ChangeStatus(ctx, r.ID, reservation.StatusCompleted)
	require.NoError(t, err)
	_, err = m.Reserve(ctx, candidate("u2", "r1", "09:00", "10:00"))
	require.NoError(t, err)
}

func TestManager_UpdateNoteAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	r, err := m.Reserve(ctx, candidate("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)

	got, err := m.UpdateNote(ctx, r.ID, "bring adapter")
	require.NoError(t, err)
	assert.Equal(t, "bring adapter", got.Note)
	assert.Equal(t, r.Interval, got.Interval)
	assert.Equal(t, r.Status, got.Status)

	_, err = m.UpdateNote(ctx, 999, "x")
	assert.ErrorIs(t, err, reservation.ErrNotFound)

	_, err = m.ChangeStatus(ctx, r.ID, reservation.StatusConfirmed)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, r.ID))
	assert.ErrorIs(t, m.Delete(ctx, r.ID), reservation.ErrNotFound)

	_, err = m.Get(ctx, r.ID)
	assert.ErrorIs(t, err, reservation.ErrNotFound)

	_, err = m.Reserve(ctx, candidate("u2", "r1", "09:00", "10:00"))
	require.NoError(t, err, "delete frees the interval regardless of status")
}

func TestManager_GetReservations(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	m.DefaultPageSize = 2

	var u1 []reservation.ID
	for i, res := range []string{"r1", "r2", "r3", "r4", "r5"} {
		r, err := m.Reserve(ctx, candidate("u1", res, fmt.Sprintf("%02d:00", 8+i), fmt.Sprintf("%02d:00", 9+i)))
		require.NoError(t, err)
		u1 = append(u1, r.ID)
	}
	other, err := m.Reserve(ctx, candidate("u2", "r1", "12:00", "13:00"))
	require.NoError(t, err)

	got, err := m.GetReservations(ctx, reservation.Scope{RequesterID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 5, "scoped fetch pages through every result")
	for i, r := range got {
		assert.Equal(t, u1[i], r.ID)
	}

	got, err = m.GetReservations(ctx, reservation.Scope{ID: other.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, other.ID, got[0].ID)

	_, err = m.GetReservations(ctx, reservation.Scope{ID: other.ID, RequesterID: "u1"})
	assert.ErrorIs(t, err, reservation.ErrNotFound)

	_, err = m.GetReservations(ctx, reservation.Scope{ID: 12345})
	assert.ErrorIs(t, err, reservation.ErrNotFound)

	got, err = m.GetReservations(ctx, reservation.Scope{ResourceID: "nowhere"})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = m.GetReservations(ctx, reservation.Scope{})
	assert.ErrorIs(t, err, reservation.ErrInvalidReservation)
}

func TestManager_QueryPaging(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	m.MaxPageSize = 4

	for h := 8; h < 18; h++ {
		_, err := m.Reserve(ctx, candidate("u1", "r1", fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:00", h+1)))
		require.NoError(t, err)
	}

	page, err := m.Query(ctx, reservation.Filter{ResourceID: "r1", Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page.Items, 4, "limit is capped")
	require.NotNil(t, page.Next)

	f := reservation.Filter{ResourceID: "r1", Limit: 3}
	var starts []time.Time
	pages := 0
	for {
		page, err := m.Query(ctx, f)
		require.NoError(t, err)
		pages++
		for _, r := range page.Items {
			starts = append(starts, r.Interval.Start)
		}
		if page.Next == nil {
			break
		}
		f.After = page.Next
	}
	assert.Equal(t, 4, pages)
	require.Len(t, starts, 10)
	for i := 1; i < len(starts); i++ {
		assert.True(t, starts[i-1].Before(starts[i]))
	}

	exact, err := m.Query(ctx, reservation.Filter{ResourceID: "r1", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, exact.Items, 4)

	empty, err := m.Query(ctx, reservation.Filter{ResourceID: "r9"})
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.Nil(t, empty.Next)

	_, err = m.Query(ctx, reservation.Filter{Limit: -1})
	assert.ErrorIs(t, err, reservation.ErrInvalidReservation)
}

func TestManager_QueryWindow(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	a, err := m.Reserve(ctx, candidate("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)
	b, err := m.Reserve(ctx, candidate("u1", "r2", "09:30", "10:30"))
	require.NoError(t, err)
	_, err = m.Reserve(ctx, candidate("u1", "r1", "10:30", "11:00"))
	require.NoError(t, err)
	_, err = m.ChangeStatus(ctx, b.ID, reservation.StatusCancelled)
	require.NoError(t, err)

	window, err := reservation.NewInterval(at("09:45"), at("10:30"))
	require.NoError(t, err)

	page, err := m.Query(ctx, reservation.Filter{Window: &window})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, a.ID, page.Items[0].ID)
	assert.Equal(t, b.ID, page.Items[1].ID)

	page, err = m.Query(ctx, reservation.Filter{Window: &window, Statuses: reservation.ActiveStatuses})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.ID, page.Items[0].ID)
}

func TestManager_AllStopsEarly(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	for h := 8; h < 14; h++ {
		_, err := m.Reserve(ctx, candidate("u1", "r1", fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:00", h+1)))
		require.NoError(t, err)
	}

	n := 0
	for r, err := range m.All(ctx, reservation.Filter{Limit: 2}) {
		require.NoError(t, err)
		require.NotZero(t, r.ID)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestManager_AllYieldsError(t *testing.T) {
	boom := fmt.Errorf("%w: query: %w", reservation.ErrBackendUnavailable, errors.New("connection reset"))
	m := NewManager(&failingStore{Store: memory.New(), err: boom}, nil)

	var errs []error
	for _, err := range m.All(context.Background(), reservation.Filter{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], reservation.ErrBackendUnavailable)
}

func TestManager_ConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	const n = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []reservation.ID
		conflict int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.Reserve(ctx, candidate(fmt.Sprintf("u%d", i), "R1", "09:00", "10:00"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, r.ID)
				return
			}
			if errors.Is(err, reservation.ErrConflict) {
				conflict++
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, winners, 1)
	assert.Equal(t, n-1, conflict)
}

type countingStore struct {
	reservation.Store
	inserts int
}

func (s *countingStore) Insert(ctx context.Context, r reservation.Reservation) (reservation.Reservation, error) {
	s.inserts++
	return s.Store.Insert(ctx, r)
}

type failingStore struct {
	reservation.Store
	err error
}

func (s *failingStore) Query(context.Context, reservation.Filter) ([]reservation.Reservation, error) {
	return nil, s.err
}
