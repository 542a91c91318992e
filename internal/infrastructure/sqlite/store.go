// Package sqlite stores reservations in a single SQLite file.
//
// Every write runs in a BEGIN IMMEDIATE transaction (the _txlock=immediate
// DSN option), which takes the database write lock before the overlap check
// is read. The check and the insert therefore commit or roll back together
// and no other writer, in this process or another, can interleave.
//
// Timestamps are stored as microseconds since the Unix epoch so that range
// comparisons are plain integer comparisons.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/rsvpd/internal/domain/reservation"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite: connect: %w", reservation.ErrBackendUnavailable, err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: ping: %w", reservation.ErrBackendUnavailable, err)
	}
	return nil
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

const columns = `id, requester_id, resource_id, start_us, end_us, note, status, created_us, updated_us`

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (reservation.Reservation, error) {
	var (
		r                reservation.Reservation
		id               int64
		status           int16
		start, end       int64
		created, updated int64
	)
	if err := row.Scan(&id, &r.RequesterID, &r.ResourceID, &start, &end, &r.Note, &status, &created, &updated); err != nil {
		return reservation.Reservation{}, err
	}
	r.ID = reservation.ID(id)
	r.Status = reservation.Status(status)
	r.Interval = reservation.Interval{Start: fromMicros(start), End: fromMicros(end)}
	r.CreatedAt = fromMicros(created)
	r.UpdatedAt = fromMicros(updated)
	return r, nil
}

func classify(op string, id reservation.ID, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("reservation %d: %w", id, reservation.ErrNotFound)
	case reservation.Kind(err) != "":
		return err
	}
	return fmt.Errorf("%w: sqlite: %s: %w", reservation.ErrBackendUnavailable, op, err)
}

// inTx runs fn in an immediate transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// checkFree fails with ErrConflict when an active reservation other than
// self overlaps iv on resourceID.
func checkFree(ctx context.Context, tx *sql.Tx, resourceID string, iv reservation.Interval, self reservation.ID) error {
	var (
		heldID     int64
		start, end int64
	)
	err := tx.QueryRowContext(ctx, `
SELECT id, start_us, end_us FROM reservations
WHERE resource_id = ? AND status IN (1, 2) AND start_us < ? AND end_us > ? AND id <> ?
LIMIT 1`, resourceID, toMicros(iv.End), toMicros(iv.Start), int64(self)).Scan(&heldID, &start, &end)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	}
	held := reservation.Interval{Start: fromMicros(start), End: fromMicros(end)}
	return fmt.Errorf("%w: resource %q is held by reservation %d for %s",
		reservation.ErrConflict, resourceID, heldID, held)
}

func (s *Store) Insert(ctx context.Context, r reservation.Reservation) (reservation.Reservation, error) {
	var out reservation.Reservation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if r.Status.Active() {
			if err := checkFree(ctx, tx, r.ResourceID, r.Interval, 0); err != nil {
				return err
			}
		}
		now := toMicros(s.now())
		var err error
		out, err = scan(tx.QueryRowContext(ctx, `
INSERT INTO reservations (requester_id, resource_id, start_us, end_us, note, status, created_us, updated_us)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING `+columns,
			r.RequesterID, r.ResourceID, toMicros(r.Interval.Start), toMicros(r.Interval.End),
			r.Note, int16(r.Status), now, now))
		return err
	})
	if err != nil {
		return reservation.Reservation{}, classify("insert", 0, err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id reservation.ID) (reservation.Reservation, error) {
	r, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM reservations WHERE id = ?`, int64(id)))
	if err != nil {
		return reservation.Reservation{}, classify("get", id, err)
	}
	return r, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id reservation.ID, transition reservation.TransitionFunc) (reservation.Reservation, error) {
	var out reservation.Reservation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := scan(tx.QueryRowContext(ctx, `SELECT `+columns+` FROM reservations WHERE id = ?`, int64(id)))
		if err != nil {
			return err
		}
		next, err := transition(cur.Status)
		if err != nil {
			return err
		}
		if !cur.Status.Active() && next.Active() {
			if err := checkFree(ctx, tx, cur.ResourceID, cur.Interval, cur.ID); err != nil {
				return err
			}
		}
		out, err = scan(tx.QueryRowContext(ctx,
			`UPDATE reservations SET status = ?, updated_us = ? WHERE id = ? RETURNING `+columns,
			int16(next), toMicros(s.now()), int64(id)))
		return err
	})
	if err != nil {
		return reservation.Reservation{}, classify("update status", id, err)
	}
	return out, nil
}

func (s *Store) UpdateNote(ctx context.Context, id reservation.ID, note string) (reservation.Reservation, error) {
	r, err := scan(s.db.QueryRowContext(ctx,
		`UPDATE reservations SET note = ?, updated_us = ? WHERE id = ? RETURNING `+columns,
		note, toMicros(s.now()), int64(id)))
	if err != nil {
		return reservation.Reservation{}, classify("update note", id, err)
	}
	return r, nil
}

func (s *Store) Delete(ctx context.Context, id reservation.ID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, int64(id))
	if err != nil {
		return classify("delete", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete", id, err)
	}
	if n == 0 {
		return fmt.Errorf("reservation %d: %w", id, reservation.ErrNotFound)
	}
	return nil
}

func buildQuery(f reservation.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, f.RequesterID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			marks = append(marks, "?")
			args = append(args, int16(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Window != nil {
		where = append(where, "start_us < ? AND end_us > ?")
		args = append(args, toMicros(f.Window.End), toMicros(f.Window.Start))
	}
	if f.After != nil {
		where = append(where, "(start_us, id) > (?, ?)")
		args = append(args, toMicros(f.After.Start), int64(f.After.ID))
	}

	q := "SELECT " + columns + " FROM reservations"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY start_us ASC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return q, args
}

func (s *Store) Query(ctx context.Context, f reservation.Filter) ([]reservation.Reservation, error) {
	q, args := buildQuery(f)
	rows, err := s.db.QueryContext(ctx, q, args...)
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

var _ reservation.Store = (*Store)(nil)
