package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/rsvpd/internal/application/scheduler"
	"github.com/example/rsvpd/internal/application/usecases"
	"github.com/example/rsvpd/internal/infrastructure/config"
	"github.com/example/rsvpd/internal/infrastructure/postgres"
	"github.com/example/rsvpd/internal/interfaces/web"
)

func newServerCmd(load loadFunc) *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API and the lifecycle sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.RequireCursorKeys(); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			store, err := openStore(ctx, cfg, migrateUp)
			if err != nil {
				return err
			}
			defer store.Close()
			logger.Info("store ready", "backend", cfg.Backend)

			m := newManager(store, cfg, logger)
			auth := usecases.NewTokenAuth(cfg.APITokenHash)
			if !auth.Enabled() {
				logger.Warn("API_TOKEN_HASH not set; API is unauthenticated")
			}
			srv := web.New(cfg.HTTPAddr, m, auth, web.NewCursorCodec(cfg.CursorHashKey, cfg.CursorBlockKey), logger)

			g, ctx := errgroup.WithContext(ctx)
			if cfg.SweepInterval > 0 {
				s := &scheduler.Sweeper{Manager: m, Interval: cfg.SweepInterval, Logger: logger}
				g.Go(func() error {
					if err := s.Run(ctx); err != nil && ctx.Err() == nil {
						return err
					}
					return nil
				})
			}
			g.Go(func() error {
				defer cancel()
				return srv.ListenAndServe(ctx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup (postgres)")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

func newMigrateCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending postgres schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Backend != config.BackendPostgres {
				fmt.Fprintf(cmd.OutOrStdout(), "backend %s has no migrations\n", cfg.Backend)
				return nil
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			pool, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
