package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rsvpd/internal/application/usecases"
	"github.com/example/rsvpd/internal/domain/reservation"
	"github.com/example/rsvpd/internal/infrastructure/memory"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newSweeper(t *testing.T) (*Sweeper, *usecases.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := usecases.NewManager(memory.New(), logger)
	m.DefaultPageSize = 2
	return &Sweeper{Manager: m, Interval: time.Hour, Logger: logger}, m
}

func book(t *testing.T, m *usecases.Manager, resource string, startH, endH int) reservation.Reservation {
	t.Helper()
	r, err := m.Reserve(context.Background(), reservation.Candidate{
		RequesterID: "u1",
		ResourceID:  resource,
		Start:       day.Add(time.Duration(startH) * time.Hour),
		End:         day.Add(time.Duration(endH) * time.Hour),
	})
	require.NoError(t, err)
	return r
}

func TestSweeper_Tick(t *testing.T) {
	ctx := context.Background()
	s, m := newSweeper(t)

	endedPending := book(t, m, "r1", 8, 9)
	endedConfirmed := book(t, m, "r2", 8, 10)
	_, err := m.ChangeStatus(ctx, endedConfirmed.ID, reservation.StatusConfirmed)
	require.NoError(t, err)
	running := book(t, m, "r3", 9, 11)
	future := book(t, m, "r4", 12, 13)
	alreadyCancelled := book(t, m, "r5", 7, 8)
	_, err = m.ChangeStatus(ctx, alreadyCancelled.ID, reservation.StatusCancelled)
	require.NoError(t, err)

	res, err := s.Tick(ctx, day.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Completed: 1, Cancelled: 1}, res)

	status := func(id reservation.ID) reservation.Status {
		r, err := m.Get(ctx, id)
		require.NoError(t, err)
		return r.Status
	}
	assert.Equal(t, reservation.StatusCancelled, status(endedPending.ID))
	assert.Equal(t, reservation.StatusCompleted, status(endedConfirmed.ID))
	assert.Equal(t, reservation.StatusPending, status(running.ID))
	assert.Equal(t, reservation.StatusPending, status(future.ID))

	// Nothing left to do on a second pass.
	res, err = s.Tick(ctx, day.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	// The swept slot is bookable again.
	book(t, m, "r1", 8, 9)
}

func TestSweeper_TickCoversAnyPastStart(t *testing.T) {
	ctx := context.Background()
	s, m := newSweeper(t)

	historic, err := m.Reserve(ctx, reservation.Candidate{
		RequesterID: "u1",
		ResourceID:  "archive",
		Start:       time.Date(1965, 6, 1, 9, 0, 0, 0, time.UTC),
		End:         time.Date(1965, 6, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	spanning, err := m.Reserve(ctx, reservation.Candidate{
		RequesterID: "u1",
		ResourceID:  "archive",
		Start:       time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC),
		End:         time.Date(1970, 1, 1, 1, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	res, err := s.Tick(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Cancelled: 2}, res)

	for _, id := range []reservation.ID{historic.ID, spanning.ID} {
		got, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusCancelled, got.Status)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	s, m := newSweeper(t)
	r := book(t, m, "r1", 8, 9)
	s.Now = func() time.Time { return day.Add(24 * time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := m.Get(context.Background(), r.ID)
		return err == nil && got.Status == reservation.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
