// Package storetest is a conformance suite shared by every reservation.Store
// implementation. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rsvpd/internal/domain/reservation"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) reservation.Store

var base = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// At returns base day + hh:mm.
func At(hhmm string) time.Time {
	d, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return base.Add(time.Duration(d.Hour())*time.Hour + time.Duration(d.Minute())*time.Minute)
}

func pending(requester, resource, start, end string) reservation.Reservation {
	return reservation.Reservation{
		RequesterID: requester,
		ResourceID:  resource,
		Interval:    reservation.Interval{Start: At(start), End: At(end)},
		Status:      reservation.StatusPending,
	}
}

func to(s reservation.Status) reservation.TransitionFunc {
	return func(cur reservation.Status) (reservation.Status, error) {
		return reservation.Next(cur, s)
	}
}

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s reservation.Store)
	}{
		{"InsertAssignsID", testInsertAssignsID},
		{"OverlapConflicts", testOverlapConflicts},
		{"TouchingAllowed", testTouchingAllowed},
		{"ResourcesIndependent", testResourcesIndependent},
		{"InactiveFreesInterval", testInactiveFreesInterval},
		{"DeleteFreesInterval", testDeleteFreesInterval},
		{"UpdateStatus", testUpdateStatus},
		{"UpdateNote", testUpdateNote},
		{"NotFound", testNotFound},
		{"QueryOrderAndFilters", testQueryOrderAndFilters},
		{"QueryPaging", testQueryPaging},
		{"CancelledContext", testCancelledContext},
		{"ConcurrentSameInterval", testConcurrentSameInterval},
		{"ConcurrentInvariant", testConcurrentInvariant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testInsertAssignsID(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	a, err := s.Insert(ctx, pending("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)
	b, err := s.Insert(ctx, pending("u1", "r1", "10:00", "11:00"))
	require.NoError(t, err)

	assert.NotZero(t, a.ID)
	assert.Greater(t, b.ID, a.ID)
	assert.Equal(t, reservation.StatusPending, a.Status)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "u1", got.RequesterID)
	assert.Equal(t, "r1", got.ResourceID)
	assert.True(t, got.Interval.Start.Equal(At("09:00")))
	assert.True(t, got.Interval.End.Equal(At("10:00")))
}

func testOverlapConflicts(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	_, err := s.Insert(ctx, pending("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)

	for _, c := range [][2]string{
		{"09:30", "10:30"},
		{"08:30", "09:01"},
		{"09:00", "10:00"},
		{"09:15", "09:45"},
		{"08:00", "12:00"},
	} {
		_, err := s.Insert(ctx, pending("u2", "r1", c[0], c[1]))
		assert.ErrorIs(t, err, reservation.ErrConflict, "interval %v", c)
	}

	all, err := s.Query(ctx, reservation.Filter{ResourceID: "r1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testTouchingAllowed(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	_, err := s.Insert(ctx, pending("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, pending("u2", "r1", "10:00", "11:00"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, pending("u2", "r1", "08:00", "09:00"))
	require.NoError(t, err)
}

func testResourcesIndependent(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	_, err := s.Insert(ctx, pending("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, pending("u1", "r2", "09:00", "10:00"))
	require.NoError(t, err)
}

func testInactiveFreesInterval(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	for _, final := range []reservation.Status{reservation.StatusCancelled, reservation.StatusCompleted} {
		t.Run(final.String(), func(t *testing.T) {
			resource := "r-" + final.String()
			r, err := s.Insert(ctx, pending("u1", resource, "09:00", "10:00"))
			require.NoError(t, err)
			_, err = s.UpdateStatus(ctx, r.ID, to(reservation.StatusConfirmed))
			require.NoError(t, err)

			_, err = s.Insert(ctx, pending("u2", resource, "09:00", "10:00"))
			require.ErrorIs(t, err, reservation.ErrConflict)

			_, err = s.UpdateStatus(ctx, r.ID, to(final))
			require.NoError(t, err)

			again, err := s.Insert(ctx, pending("u2", resource, "09:00", "10:00"))
			require.NoError(t, err)
			assert.NotEqual(t, r.ID, again.ID)
		})
	}
}

func testDeleteFreesInterval(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	r, err := s.Insert(ctx, pending("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, r.ID))

	_, err = s.Get(ctx, r.ID)
	assert.ErrorIs(t, err, reservation.ErrNotFound)

	_, err = s.Insert(ctx, pending("u2", "r1", "09:00", "10:00"))
	require.NoError(t, err)
}

func testUpdateStatus(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	r, err := s.Insert(ctx, pending("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)

	got, err := s.UpdateStatus(ctx, r.ID, to(reservation.StatusConfirmed))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, got.Status)

	_, err = s.UpdateStatus(ctx, r.ID, to(reservation.StatusPending))
	assert.ErrorIs(t, err, reservation.ErrInvalidStatusTransition)

	stored, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, stored.Status, "failed transition must not persist")
}

func testUpdateNote(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	r, err := s.Insert(ctx, pending("u1", "r1", "09:00", "10:00"))
	require.NoError(t, err)

	got, err := s.UpdateNote(ctx, r.ID, "projector please")
	require.NoError(t, err)
	assert.Equal(t, "projector please", got.Note)
	assert.Equal(t, reservation.StatusPending, got.Status)
	assert.True(t, got.Interval.Start.Equal(r.Interval.Start))

	stored, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "projector please", stored.Note)
}

func testNotFound(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	missing := reservation.ID(424242)

	_, err := s.Get(ctx, missing)
	assert.ErrorIs(t, err, reservation.ErrNotFound)
	_, err = s.UpdateStatus(ctx, missing, to(reservation.StatusConfirmed))
	assert.ErrorIs(t, err, reservation.ErrNotFound)
	_, err = s.UpdateNote(ctx, missing, "x")
	assert.ErrorIs(t, err, reservation.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, missing), reservation.ErrNotFound)

	got, err := s.Query(ctx, reservation.Filter{ResourceID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testQueryOrderAndFilters(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	mk := func(req, res, a, b string) reservation.Reservation {
		r, err := s.Insert(ctx, pending(req, res, a, b))
		require.NoError(t, err)
		return r
	}
	r1late := mk("u1", "r1", "11:00", "12:00")
	r2 := mk("u2", "r2", "09:00", "10:00")
	r1early := mk("u2", "r1", "09:00", "10:00")
	r3 := mk("u1", "r3", "09:00", "09:30")

	_, err := s.UpdateStatus(ctx, r3.ID, to(reservation.StatusCancelled))
	require.NoError(t, err)

	ids := func(rs []reservation.Reservation) []reservation.ID {
		out := make([]reservation.ID, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	all, err := s.Query(ctx, reservation.Filter{})
	require.NoError(t, err)
	// equal starts tie-break on id
	assert.Equal(t, []reservation.ID{r2.ID, r1early.ID, r3.ID, r1late.ID}, ids(all))

	got, err := s.Query(ctx, reservation.Filter{ResourceID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, []reservation.ID{r1early.ID, r1late.ID}, ids(got))

	got, err = s.Query(ctx, reservation.Filter{RequesterID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []reservation.ID{r3.ID, r1late.ID}, ids(got))

	got, err = s.Query(ctx, reservation.Filter{Statuses: []reservation.Status{reservation.StatusCancelled}})
	require.NoError(t, err)
	assert.Equal(t, []reservation.ID{r3.ID}, ids(got))

	got, err = s.Query(ctx, reservation.Filter{Statuses: reservation.ActiveStatuses, RequesterID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []reservation.ID{r1late.ID}, ids(got))

	// [10:00, 11:00) touches r1early/r2 at the end and r1late at the start.
	window := reservation.Interval{Start: At("10:00"), End: At("11:00")}
	got, err = s.Query(ctx, reservation.Filter{Window: &window})
	require.NoError(t, err)
	assert.Empty(t, got)

	window = reservation.Interval{Start: At("09:15"), End: At("11:01")}
	got, err = s.Query(ctx, reservation.Filter{Window: &window})
	require.NoError(t, err)
	assert.Equal(t, []reservation.ID{r2.ID, r1early.ID, r3.ID, r1late.ID}, ids(got))

	got, err = s.Query(ctx, reservation.Filter{Window: &window, Statuses: reservation.ActiveStatuses, ResourceID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, []reservation.ID{r1early.ID, r1late.ID}, ids(got))
}

func testQueryPaging(t *testing.T, s reservation.Store) {
	ctx := context.Background()
	var want []reservation.ID
	for h := 8; h < 18; h++ {
		r, err := s.Insert(ctx, pending("u1", "r1", fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:00", h+1)))
		require.NoError(t, err)
		want = append(want, r.ID)
	}

	var got []reservation.ID
	f := reservation.Filter{ResourceID: "r1", Limit: 3}
	for pages := 0; pages < 10; pages++ {
		page, err := s.Query(ctx, f)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page), 3)
		for _, r := range page {
			got = append(got, r.ID)
		}
		if len(page) < f.Limit {
			break
		}
		c := reservation.CursorOf(page[len(page)-1])
		f.After = &c
	}
	assert.Equal(t, want, got)

	// Re-reading a page from the same cursor is idempotent.
	c := reservation.Cursor{Start: At("10:00"), ID: want[2]}
	f = reservation.Filter{ResourceID: "r1", Limit: 2, After: &c}
	first, err := s.Query(ctx, f)
	require.NoError(t, err)
	second, err := s.Query(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, want[3], first[0].ID)
}

func testCancelledContext(t *testing.T, s reservation.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Insert(ctx, pending("u1", "r1", "09:00", "10:00"))
	require.Error(t, err)

	// Nothing may be left occupying the slot.
	_, err = s.Insert(context.Background(), pending("u2", "r1", "09:00", "10:00"))
	require.NoError(t, err)
}

func testConcurrentSameInterval(t *testing.T, s reservation.Store) {
	const n = 16
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// alternate between two overlapping shapes
			c := pending(fmt.Sprintf("u%d", i), "r1", "09:00", "10:00")
			if i%2 == 1 {
				c = pending(fmt.Sprintf("u%d", i), "r1", "09:30", "10:30")
			}
			_, err := s.Insert(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, reservation.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func testConcurrentInvariant(t *testing.T, s reservation.Store) {
	const workers = 8
	const opsPerWorker = 40
	ctx := context.Background()
	resources := []string{"r1", "r2", "r3"}

	var wg sync.WaitGroup
	errs := make(chan error, workers*opsPerWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var mine []reservation.ID
			for i := 0; i < opsPerWorker; i++ {
				switch op := rng.Intn(10); {
				case op < 6 || len(mine) == 0:
					startMin := rng.Intn(8 * 60)
					iv := reservation.Interval{
						Start: base.Add(time.Duration(startMin) * time.Minute),
						End:   base.Add(time.Duration(startMin+15+rng.Intn(90)) * time.Minute),
					}
					r, err := s.Insert(ctx, reservation.Reservation{
						RequesterID: "u", ResourceID: resources[rng.Intn(len(resources))],
						Interval: iv, Status: reservation.StatusPending,
					})
					if err == nil {
						mine = append(mine, r.ID)
					} else if !errors.Is(err, reservation.ErrConflict) {
						errs <- err
					}
				case op < 8:
					id := mine[rng.Intn(len(mine))]
					next := []reservation.Status{
						reservation.StatusConfirmed, reservation.StatusCancelled, reservation.StatusCompleted,
					}[rng.Intn(3)]
					_, err := s.UpdateStatus(ctx, id, to(next))
					if err != nil && !errors.Is(err, reservation.ErrInvalidStatusTransition) {
						errs <- err
					}
				default:
					idx := rng.Intn(len(mine))
					if err := s.Delete(ctx, mine[idx]); err != nil {
						errs <- err
					}
					mine = append(mine[:idx], mine[idx+1:]...)
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	for _, res := range resources {
		active, err := s.Query(ctx, reservation.Filter{ResourceID: res, Statuses: reservation.ActiveStatuses})
		require.NoError(t, err)
		for i := 1; i < len(active); i++ {
			prev, cur := active[i-1], active[i]
			assert.False(t, reservation.Overlaps(prev.Interval, cur.Interval),
				"%s: %d %s overlaps %d %s", res, prev.ID, prev.Interval, cur.ID, cur.Interval)
		}
	}
}
