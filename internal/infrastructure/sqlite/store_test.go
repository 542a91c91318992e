package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rsvpd/internal/domain/reservation"
	"github.com/example/rsvpd/internal/domain/reservation/storetest"
)

// createTestStore opens a fresh database file under t.TempDir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) reservation.Store { return createTestStore(t) })
}

func TestOpen_ReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	r, err := s1.Insert(ctx, reservation.Reservation{
		RequesterID: "u1", ResourceID: "r1",
		Interval: reservation.Interval{Start: storetest.At("09:00"), End: storetest.At("10:00")},
		Status:   reservation.StatusPending,
		Note:     "kept",
	})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Note)
	assert.True(t, got.Interval.Start.Equal(storetest.At("09:00")))

	// The reopened file still enforces the booking.
	_, err = s2.Insert(ctx, reservation.Reservation{
		RequesterID: "u2", ResourceID: "r1",
		Interval: reservation.Interval{Start: storetest.At("09:30"), End: storetest.At("10:30")},
		Status:   reservation.StatusPending,
	})
	assert.ErrorIs(t, err, reservation.ErrConflict)
}

func TestOpen_TwoHandlesShareLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	mk := func(requester string) reservation.Reservation {
		return reservation.Reservation{
			RequesterID: requester, ResourceID: "r1",
			Interval: reservation.Interval{Start: storetest.At("09:00"), End: storetest.At("10:00")},
			Status:   reservation.StatusPending,
		}
	}
	_, err = a.Insert(ctx, mk("u1"))
	require.NoError(t, err)
	_, err = b.Insert(ctx, mk("u2"))
	assert.ErrorIs(t, err, reservation.ErrConflict)
}

func TestBuildQuery(t *testing.T) {
	q, args := buildQuery(reservation.Filter{
		ResourceID: "r1",
		Statuses:   []reservation.Status{reservation.StatusCancelled},
		Limit:      5,
	})
	assert.Equal(t, "SELECT "+columns+" FROM reservations WHERE resource_id = ? AND status IN (?) ORDER BY start_us ASC, id ASC LIMIT ?", q)
	assert.Equal(t, []any{"r1", int16(3), 5}, args)
}
