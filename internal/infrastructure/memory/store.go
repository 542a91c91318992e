// Package memory is an in-process reservation store. Each resource keeps a
// sorted index of its active intervals behind its own mutex, so bookings on
// different resources never contend and the overlap check and the insert for
// one resource happen under a single lock acquisition.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/rsvpd/internal/domain/reservation"
)

type Store struct {
	mu        sync.RWMutex
	byID      map[reservation.ID]reservation.Reservation
	resources map[string]*resourceIndex

	nextID atomic.Int64
	now    func() time.Time
}

func New() *Store {
	return &Store{
		byID:      make(map[reservation.ID]reservation.Reservation),
		resources: make(map[string]*resourceIndex),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for created/updated timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

type slot struct {
	iv reservation.Interval
	id reservation.ID
}

// resourceIndex holds the active intervals of one resource ordered by start.
// Because active intervals never overlap, they are ordered by end as well.
// An index that becomes empty is dropped from Store.resources and marked
// retired; holders of a stale pointer must look the resource up again.
type resourceIndex struct {
	mu      sync.Mutex
	active  []slot
	retired bool
}

func (x *resourceIndex) conflict(iv reservation.Interval) (slot, bool) {
	i := sort.Search(len(x.active), func(i int) bool {
		return x.active[i].iv.End.After(iv.Start)
	})
	if i < len(x.active) && x.active[i].iv.Start.Before(iv.End) {
		return x.active[i], true
	}
	return slot{}, false
}

func (x *resourceIndex) insert(sl slot) {
	i := sort.Search(len(x.active), func(i int) bool {
		return !x.active[i].iv.Start.Before(sl.iv.Start)
	})
	x.active = slices.Insert(x.active, i, sl)
}

func (x *resourceIndex) remove(id reservation.ID) {
	x.active = slices.DeleteFunc(x.active, func(sl slot) bool { return sl.id == id })
}

func (s *Store) index(resourceID string) *resourceIndex {
	s.mu.RLock()
	x, ok := s.resources[resourceID]
	s.mu.RUnlock()
	if ok {
		return x
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if x, ok = s.resources[resourceID]; !ok {
		x = &resourceIndex{}
		s.resources[resourceID] = x
	}
	return x
}

// lockIndex returns the live index of resourceID with its mutex held.
func (s *Store) lockIndex(resourceID string) *resourceIndex {
	for {
		x := s.index(resourceID)
		x.mu.Lock()
		if !x.retired {
			return x
		}
		x.mu.Unlock()
	}
}

// unlockIndex releases x, dropping it first if it holds no active interval.
func (s *Store) unlockIndex(resourceID string, x *resourceIndex) {
	if len(x.active) == 0 {
		s.mu.Lock()
		if s.resources[resourceID] == x {
			delete(s.resources, resourceID)
		}
		s.mu.Unlock()
		x.retired = true
	}
	x.mu.Unlock()
}

func (s *Store) load(id reservation.ID) (reservation.Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

func (s *Store) put(r reservation.Reservation) {
	s.mu.Lock()
	s.byID[r.ID] = r
	s.mu.Unlock()
}

func notFound(id reservation.ID) error {
	return fmt.Errorf("reservation %d: %w", id, reservation.ErrNotFound)
}

func conflictErr(resourceID string, sl slot) error {
	return fmt.Errorf("%w: resource %q is held by reservation %d for %s",
		reservation.ErrConflict, resourceID, sl.id, sl.iv)
}

func (s *Store) Insert(ctx context.Context, r reservation.Reservation) (reservation.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return reservation.Reservation{}, fmt.Errorf("memory: insert: %w", err)
	}

	x := s.lockIndex(r.ResourceID)
	defer s.unlockIndex(r.ResourceID, x)

	if r.Status.Active() {
		if held, ok := x.conflict(r.Interval); ok {
			return reservation.Reservation{}, conflictErr(r.ResourceID, held)
		}
	}

	now := s.now().UTC()
	r.ID = reservation.ID(s.nextID.Add(1))
	r.CreatedAt = now
	r.UpdatedAt = now
	s.put(r)
	if r.Status.Active() {
		x.insert(slot{iv: r.Interval, id: r.ID})
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, id reservation.ID) (reservation.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return reservation.Reservation{}, fmt.Errorf("memory: get: %w", err)
	}
	r, ok := s.load(id)
	if !ok {
		return reservation.Reservation{}, notFound(id)
	}
	return r, nil
}

// locked runs fn with the resource lock of reservation id held and the
// record re-read under that lock.
func (s *Store) locked(ctx context.Context, id reservation.ID, fn func(x *resourceIndex, cur reservation.Reservation) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, ok := s.load(id)
	if !ok {
		return notFound(id)
	}
	x := s.lockIndex(cur.ResourceID)
	defer s.unlockIndex(cur.ResourceID, x)

	if cur, ok = s.load(id); !ok {
		return notFound(id)
	}
	return fn(x, cur)
}

func (s *Store) UpdateStatus(ctx context.Context, id reservation.ID, transition reservation.TransitionFunc) (reservation.Reservation, error) {
	var out reservation.Reservation
	err := s.locked(ctx, id, func(x *resourceIndex, cur reservation.Reservation) error {
		next, err := transition(cur.Status)
		if err != nil {
			return err
		}
		switch {
		case cur.Status.Active() && !next.Active():
			x.remove(cur.ID)
		case !cur.Status.Active() && next.Active():
			if held, ok := x.conflict(cur.Interval); ok {
				return conflictErr(cur.ResourceID, held)
			}
			x.insert(slot{iv: cur.Interval, id: cur.ID})
		}
		cur.Status = next
		cur.UpdatedAt = s.now().UTC()
		s.put(cur)
		out = cur
		return nil
	})
	return out, err
}

func (s *Store) UpdateNote(ctx context.Context, id reservation.ID, note string) (reservation.Reservation, error) {
	var out reservation.Reservation
	err := s.locked(ctx, id, func(_ *resourceIndex, cur reservation.Reservation) error {
		cur.Note = note
		cur.UpdatedAt = s.now().UTC()
		s.put(cur)
		out = cur
		return nil
	})
	return out, err
}

func (s *Store) Delete(ctx context.Context, id reservation.ID) error {
	return s.locked(ctx, id, func(x *resourceIndex, cur reservation.Reservation) error {
		x.remove(cur.ID)
		s.mu.Lock()
		delete(s.byID, cur.ID)
		s.mu.Unlock()
		return nil
	})
}

func (s *Store) Query(ctx context.Context, f reservation.Filter) ([]reservation.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	s.mu.RLock()
	out := make([]reservation.Reservation, 0)
	for _, r := range s.byID {
		if !f.Match(r) {
			continue
		}
		if f.After != nil && !f.After.IsAfter(r) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, reservation.Compare)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

var _ reservation.Store = (*Store)(nil)
