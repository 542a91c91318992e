// Package cli is the rsvpd command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/rsvpd/internal/infrastructure/config"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

// loadFunc resolves the configuration for a command invocation.
type loadFunc func() (config.Config, error)

func NewRoot() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "rsvpd",
		Short:         "Conflict-aware interval reservations for shared resources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $RSVPD_CONFIG)")

	load := func() (config.Config, error) {
		if configPath != "" {
			return config.Load(configPath)
		}
		return config.FromEnv()
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newServerCmd(load))
	root.AddCommand(newMigrateCmd(load))
	root.AddCommand(newReserveCmd(load))
	root.AddCommand(newStatusCmd(load))
	root.AddCommand(newNoteCmd(load))
	root.AddCommand(newGetCmd(load))
	root.AddCommand(newDeleteCmd(load))
	root.AddCommand(newQueryCmd(load))
	return root
}

func Execute() {
	if err := NewRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
