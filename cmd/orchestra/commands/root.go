package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	noColor    bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "orchestra",
		Short: "Orchestra - backend orchestration for hosting control panels",
		Long: `Orchestra turns changes to hosting models (domains, records, websites) into
idempotent shell scripts, routes them to the servers running each service and
keeps an audit log of every run.

Features:
  - Bind9 master and slave zones, Apache virtual hosts
  - Route tables with Starlark match expressions
  - One script per (backend, server) with a single reload
  - Bounded worker pool with timeouts, revocation and retries
  - Script policies written in Rego`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default ./orchestra.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newRetryCommand())
	rootCmd.AddCommand(newRevokeCommand())
	rootCmd.AddCommand(newServersCommand())
	rootCmd.AddCommand(newRoutesCommand())
	rootCmd.AddCommand(newBackendsCommand())
	rootCmd.AddCommand(newPurgeCommand())

	return rootCmd
}
