package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/rsvpd/internal/application/usecases"
	"github.com/example/rsvpd/internal/domain/reservation"
)

// Sweeper periodically closes reservations whose interval has ended:
// Confirmed becomes Completed and Pending, never confirmed, becomes Cancelled.
type Sweeper struct {
	Manager  *usecases.Manager
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// SweepResult counts what one tick did.
type SweepResult struct {
	Completed int
	Cancelled int
	Skipped   int
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Sweeper) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Run ticks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runTick(ctx)
		}
	}
}

func (s *Sweeper) runTick(ctx context.Context) {
	res, err := s.Tick(ctx, s.now())
	if err != nil {
		s.logger().Warn("sweep failed", "error", err)
		return
	}
	if res.Completed+res.Cancelled > 0 {
		s.logger().Info("sweep finished", "completed", res.Completed, "cancelled", res.Cancelled, "skipped", res.Skipped)
	}
}

// Tick closes every active reservation that ended at or before now.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	now = now.UTC()

	// No query window: any lower bound would skip reservations starting
	// before it. Results come in start order, so stop at the first future start.
	var ended []reservation.Reservation
	f := reservation.Filter{Statuses: reservation.ActiveStatuses}
	for r, err := range s.Manager.All(ctx, f) {
		if err != nil {
			return res, err
		}
		if !r.Interval.Start.Before(now) {
			break
		}
		if !r.Interval.End.After(now) {
			ended = append(ended, r)
		}
	}

	for _, r := range ended {
		target := reservation.StatusCancelled
		if r.Status == reservation.StatusConfirmed {
			target = reservation.StatusCompleted
		}
		_, err := s.Manager.ChangeStatus(ctx, r.ID, target)
		switch {
		case err == nil && target == reservation.StatusCompleted:
			res.Completed++
		case err == nil:
			res.Cancelled++
		case errors.Is(err, reservation.ErrInvalidStatusTransition), errors.Is(err, reservation.ErrNotFound):
			// changed or deleted since the scan
			s.logger().Debug("sweep skipped reservation", "id", r.ID, "error", err)
			res.Skipped++
		default:
			return res, err
		}
	}
	return res, nil
}
