package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

func newPurgeCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished backend logs past their retention",
		Long: `Delete backend logs in a terminal state created before the retention
window, together with their operations. Logs still queued or running are kept.
serve runs the same purge on the configured schedule.`,
		Example: `  # Use the configured retention
  orchestra purge

  # Keep one week
  orchestra purge --older-than 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			retention := a.settings.Purge.Retention
			if cmd.Flags().Changed("older-than") {
				retention = olderThan
			}
			janitor, err := orchestration.NewJanitor(a.store, retention, a.settings.Purge.Schedule, a.tel.Logger)
			if err != nil {
				return err
			}
			purged, err := janitor.Purge(ctx)
			if err != nil {
				return err
			}
			a.tel.Metrics.RecordPurge(purged)
			_ = a.tel.Events.PublishLogsPurged(purged, time.Now().Add(-retention))

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]any{"purged": purged, "retention": retention.String()})
			}
			fmt.Fprintf(out, "Purged %d backend log(s) older than %s\n", purged, retention)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention window (default from settings)")

	return cmd
}
