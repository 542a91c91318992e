package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/example/rsvpd/internal/application/usecases"
	"github.com/example/rsvpd/internal/domain/reservation"
	"github.com/example/rsvpd/internal/infrastructure/config"
	"github.com/example/rsvpd/internal/infrastructure/logging"
	"github.com/example/rsvpd/internal/infrastructure/memory"
	"github.com/example/rsvpd/internal/infrastructure/postgres"
	"github.com/example/rsvpd/internal/infrastructure/sqlite"
)

// openStore connects the backend named by cfg.Backend. For postgres the
// schema migrations run first when migrate is set.
func openStore(ctx context.Context, cfg config.Config, migrate bool) (reservation.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.BackendPostgres:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return postgres.NewStore(pool), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	return logging.New(w, cfg.LogLevel, cfg.LogFormat)
}

func newManager(store reservation.Store, cfg config.Config, logger *slog.Logger) *usecases.Manager {
	m := usecases.NewManager(store, logger)
	m.DefaultPageSize = cfg.DefaultPageSize
	m.MaxPageSize = cfg.MaxPageSize
	return m
}
