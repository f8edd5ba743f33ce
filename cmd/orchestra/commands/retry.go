package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry LOG_ID",
		Short: "Run the operations of a backend log again",
		Long: `Resubmit the instances recorded against a backend log. When they all
still exist the script is compiled again from the current inventory, otherwise
the logged script is run as it was.`,
		Example: `  orchestra retry 42`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLogID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.loadInventory(ctx); err != nil {
				a.tel.Logger.WithError(err).Warn("Inventory not loaded, the logged script will be reused")
			}

			task, err := a.manager.Retry(ctx, id)
			if err != nil {
				return err
			}
			l, err := task.Wait(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, l)
			}
			fmt.Fprintf(out, "Log %d retried as log %d: %s\n", id, l.ID, stateLabel(out, l.State))
			return nil
		},
	}

	return cmd
}

func newRevokeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke LOG_ID",
		Short: "Revoke a backend log that has not started yet",
		Long: `Move a RECEIVED backend log to REVOKED so no worker picks it up. Scripts
that already started cannot be revoked; they end on their timeout.`,
		Example: `  orchestra revoke 42`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLogID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			revoked, err := a.engine.Revoke(ctx, id)
			if err != nil {
				return err
			}
			if !revoked {
				l, err := a.store.GetLog(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get log %d: %w", id, err)
				}
				return fmt.Errorf("log %d is %s and cannot be revoked", id, l.State)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Log %d revoked\n", id)
			return nil
		},
	}

	return cmd
}
