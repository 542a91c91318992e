// Package postgres stores reservations in PostgreSQL. The no-overlap rule is
// enforced by the reservations_no_overlap exclusion constraint, so concurrent
// inserts from any number of processes are serialized by the server.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/rsvpd/internal/domain/reservation"
)

// SQLSTATE exclusion_violation.
const exclusionViolation = "23P01"

const columns = `id, requester_id, resource_id, lower(timespan), upper(timespan), note, status, created_at, updated_at`

type Store struct{ pool *pgxpool.Pool }

func NewStore(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func scan(row pgx.Row) (reservation.Reservation, error) {
	var (
		r      reservation.Reservation
		id     int64
		status int16
	)
	if err := row.Scan(&id, &r.RequesterID, &r.ResourceID, &r.Interval.Start, &r.Interval.End,
		&r.Note, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return reservation.Reservation{}, err
	}
	r.ID = reservation.ID(id)
	r.Status = reservation.Status(status)
	r.Interval.Start = r.Interval.Start.UTC()
	r.Interval.End = r.Interval.End.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// classify maps driver errors onto the reservation error kinds. Errors that
// already carry a kind (for example from a TransitionFunc) pass through.
func classify(op string, id reservation.ID, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("reservation %d: %w", id, reservation.ErrNotFound)
	case errors.As(err, &pgErr) && pgErr.Code == exclusionViolation:
		return fmt.Errorf("%w: %s", reservation.ErrConflict, pgErr.Detail)
	case reservation.Kind(err) != "":
		return err
	}
	return fmt.Errorf("%w: postgres: %s: %w", reservation.ErrBackendUnavailable, op, err)
}

func (s *Store) Insert(ctx context.Context, r reservation.Reservation) (reservation.Reservation, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO reservations (requester_id, resource_id, timespan, note, status)
VALUES ($1, $2, tstzrange($3, $4, '[)'), $5, $6)
RETURNING `+columns,
		r.RequesterID, r.ResourceID, r.Interval.Start, r.Interval.End, r.Note, int16(r.Status),
	)
	out, err := scan(row)
	if err != nil {
		return reservation.Reservation{}, classify("insert", 0, err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id reservation.ID) (reservation.Reservation, error) {
	r, err := scan(s.pool.QueryRow(ctx, `SELECT `+columns+` FROM reservations WHERE id=$1`, int64(id)))
	if err != nil {
		return reservation.Reservation{}, classify("get", id, err)
	}
	return r, nil
}

// UpdateStatus locks the row, lets transition decide, and writes the result
// in the same transaction. A transition back to an active status is still
// guarded by the exclusion constraint.
func (s *Store) UpdateStatus(ctx context.Context, id reservation.ID, transition reservation.TransitionFunc) (reservation.Reservation, error) {
	var out reservation.Reservation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := scan(tx.QueryRow(ctx, `SELECT `+columns+` FROM reservations WHERE id=$1 FOR UPDATE`, int64(id)))
		if err != nil {
			return err
		}
		next, err := transition(cur.Status)
		if err != nil {
			return err
		}
		out, err = scan(tx.QueryRow(ctx,
			`UPDATE reservations SET status=$2, updated_at=now() WHERE id=$1 RETURNING `+columns,
			int64(id), int16(next)))
		return err
	})
	if err != nil {
		return reservation.Reservation{}, classify("update status", id, err)
	}
	return out, nil
}

func (s *Store) UpdateNote(ctx context.Context, id reservation.ID, note string) (reservation.Reservation, error) {
	r, err := scan(s.pool.QueryRow(ctx,
		`UPDATE reservations SET note=$2, updated_at=now() WHERE id=$1 RETURNING `+columns,
		int64(id), note))
	if err != nil {
		return reservation.Reservation{}, classify("update note", id, err)
	}
	return r, nil
}

func (s *Store) Delete(ctx context.Context, id reservation.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reservations WHERE id=$1`, int64(id))
	if err != nil {
		return classify("delete", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation %d: %w", id, reservation.ErrNotFound)
	}
	return nil
}

// buildQuery renders f as a parameterized SELECT in canonical order.
func buildQuery(f reservation.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.ResourceID != "" {
		where = append(where, "resource_id = "+arg(f.ResourceID))
	}
	if f.RequesterID != "" {
		where = append(where, "requester_id = "+arg(f.RequesterID))
	}
	if len(f.Statuses) > 0 {
		codes := make([]int16, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			codes = append(codes, int16(st))
		}
		where = append(where, "status = ANY("+arg(codes)+"::smallint[])")
	}
	if f.Window != nil {
		where = append(where, "timespan && tstzrange("+arg(f.Window.Start)+"::timestamptz, "+arg(f.Window.End)+"::timestamptz, '[)')")
	}
	if f.After != nil {
		where = append(where, "(lower(timespan), id) > ("+arg(f.After.Start)+"::timestamptz, "+arg(int64(f.After.ID))+"::bigint)")
	}

	var b strings.Builder
	b.WriteString("SELECT " + columns + " FROM reservations")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY lower(timespan) ASC, id ASC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + arg(f.Limit))
	}
	return b.String(), args
}

func (s *Store) Query(ctx context.Context, f reservation.Filter) ([]reservation.Reservation, error) {
	sql, args := buildQuery(f)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("query", 0, err)
	}
	defer rows.Close()

	out := make([]reservation.Reservation, 0)
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, classify("query", 0, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query", 0, err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return ping(ctx, s.pool) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Truncate removes every reservation and resets the id sequence. Tests only.
func (s *Store) Truncate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `TRUNCATE reservations RESTART IDENTITY`)
	return err
}

var _ reservation.Store = (*Store)(nil)
