package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/rsvpd/internal/application/usecases"
	"github.com/example/rsvpd/internal/domain/reservation"
)

// withManager opens the configured backend, runs fn and closes the store.
func withManager(cmd *cobra.Command, load loadFunc, fn func(ctx context.Context, m *usecases.Manager) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, newManager(store, cfg, logger))
}

func printReservation(w io.Writer, r reservation.Reservation) {
	fmt.Fprintf(w, "id=%d resource=%q requester=%q start=%s end=%s status=%s note=%q\n",
		r.ID, r.ResourceID, r.RequesterID,
		r.Interval.Start.Format(time.RFC3339Nano), r.Interval.End.Format(time.RFC3339Nano),
		r.Status, r.Note)
}

func parseID(v string) (reservation.ID, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid reservation id %q", v)
	}
	return reservation.ID(n), nil
}

func newReserveCmd(load loadFunc) *cobra.Command {
	var resource, requester, start, end, note string
	c := &cobra.Command{
		Use:   "reserve",
		Short: "Reserve an interval on a resource (created as pending)",
		RunE: func(cmd *cobra.Command, args []string) error {
			iv, err := reservation.ParseInterval(start, end)
			if err != nil {
				return err
			}
			return withManager(cmd, load, func(ctx context.Context, m *usecases.Manager) error {
				r, err := m.Reserve(ctx, reservation.Candidate{
					RequesterID: requester,
					ResourceID:  resource,
					Start:       iv.Start,
					End:         iv.End,
					Note:        note,
				})
				if err != nil {
					return err
				}
				printReservation(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}
	c.Flags().StringVar(&resource, "resource", "", "resource id")
	c.Flags().StringVar(&requester, "requester", "", "requester id")
	c.Flags().StringVar(&start, "start", "", "interval start (RFC3339)")
	c.Flags().StringVar(&end, "end", "", "interval end, exclusive (RFC3339)")
	c.Flags().StringVar(&note, "note", "", "free-form note")
	_ = c.MarkFlagRequired("resource")
	_ = c.MarkFlagRequired("requester")
	_ = c.MarkFlagRequired("start")
	_ = c.MarkFlagRequired("end")
	return c
}

func newStatusCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <pending|confirmed|cancelled|completed>",
		Short: "Change a reservation's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			status, err := reservation.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withManager(cmd, load, func(ctx context.Context, m *usecases.Manager) error {
				r, err := m.ChangeStatus(ctx, id, status)
				if err != nil {
					return err
				}
				printReservation(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}
}

func newNoteCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "note <id> <text>",
		Short: "Replace a reservation's note",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			note := strings.Join(args[1:], " ")
			return withManager(cmd, load, func(ctx context.Context, m *usecases.Manager) error {
				r, err := m.UpdateNote(ctx, id, note)
				if err != nil {
					return err
				}
				printReservation(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}
}

func newGetCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, load, func(ctx context.Context, m *usecases.Manager) error {
				r, err := m.Get(ctx, id)
				if err != nil {
					return err
				}
				printReservation(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}
}

func newDeleteCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a reservation permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, load, func(ctx context.Context, m *usecases.Manager) error {
				if err := m.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted id=%d\n", id)
				return nil
			})
		},
	}
}

func newQueryCmd(load loadFunc) *cobra.Command {
	var (
		resource, requester, from, to string
		statuses                      []string
		limit                         int
	)
	c := &cobra.Command{
		Use:   "query",
		Short: "List reservations ordered by start time",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := reservation.Filter{ResourceID: resource, RequesterID: requester}
			for _, v := range statuses {
				st, err := reservation.ParseStatus(v)
				if err != nil {
					return err
				}
				f.Statuses = append(f.Statuses, st)
			}
			if from != "" || to != "" {
				window, err := reservation.ParseInterval(from, to)
				if err != nil {
					return err
				}
				f.Window = &window
			}
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			return withManager(cmd, load, func(ctx context.Context, m *usecases.Manager) error {
				n := 0
				for r, err := range m.All(ctx, f) {
					if err != nil {
						return err
					}
					printReservation(cmd.OutOrStdout(), r)
					n++
					if limit > 0 && n >= limit {
						break
					}
				}
				return nil
			})
		},
	}
	c.Flags().StringVar(&resource, "resource", "", "only this resource")
	c.Flags().StringVar(&requester, "requester", "", "only this requester")
	c.Flags().StringSliceVar(&statuses, "status", nil, "only these statuses (repeatable or comma-separated)")
	c.Flags().StringVar(&from, "from", "", "window start (RFC3339); requires --to")
	c.Flags().StringVar(&to, "to", "", "window end (RFC3339); requires --from")
	c.Flags().IntVar(&limit, "limit", 0, "stop after this many results (0 = all)")
	return c
}
