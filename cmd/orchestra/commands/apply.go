package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostpanel/orchestra/pkg/models"
	"github.com/hostpanel/orchestra/pkg/orchestration"
)

var kindAliases = map[string]string{
	"domain":  models.KindDomain,
	"record":  models.KindRecord,
	"website": models.KindWebsite,
}

// parseRef parses "kind:id", accepting short kinds such as domain:example.com.
func parseRef(v string) (orchestration.InstanceRef, error) {
	ref, err := orchestration.ParseInstanceRef(v)
	if err != nil {
		return ref, err
	}
	if kind, ok := kindAliases[strings.ToLower(ref.Type)]; ok {
		ref.Type = kind
	}
	return ref, nil
}

func newApplyCommand() *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Sync the inventory and save its instances",
		Long: `Sync servers and routes from the inventory into the database, then
save every domain, record and website on the servers routed for each backend.

Each (backend, server) pair gets a single script that ends with one reload.
Scripts are idempotent: applying an unchanged inventory leaves services alone.`,
		Example: `  # Save everything
  orchestra apply

  # Save one domain and one website
  orchestra apply --only domain:example.com --only website:shop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.loadInventory(ctx); err != nil {
				return err
			}

			changes, err := selectChanges(a.catalog.Snapshot(), only, orchestration.ActionSave)
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to apply")
				return nil
			}
			log.Info().Int("changes", len(changes)).Msg("Applying inventory")
			return runTransaction(ctx, cmd.OutOrStdout(), a, changes)
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "only save these instances (kind:id, repeatable)")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete KIND:ID...",
		Short: "Remove instances from their servers",
		Long: `Run the delete scripts of instances declared in the inventory, e.g. before
removing them from it. Deleting a record saves its domain instead.`,
		Example: `  orchestra delete domain:example.org
  orchestra delete website:shop`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.loadInventory(ctx); err != nil {
				return err
			}
			changes, err := selectChanges(a.catalog.Snapshot(), args, orchestration.ActionDelete)
			if err != nil {
				return err
			}
			return runTransaction(ctx, cmd.OutOrStdout(), a, changes)
		},
	}

	return cmd
}

// selectChanges returns one change per referenced instance, or for every
// instance of the snapshot when refs is empty.
func selectChanges(snap *models.Snapshot, refs []string, action orchestration.Action) ([]orchestration.Change, error) {
	var changes []orchestration.Change
	if len(refs) == 0 {
		for _, inst := range snap.Instances() {
			changes = append(changes, orchestration.Change{Instance: inst, Action: action})
		}
		return changes, nil
	}
	for _, v := range refs {
		ref, err := parseRef(v)
		if err != nil {
			return nil, err
		}
		inst, ok := snap.Get(ref)
		if !ok {
			return nil, fmt.Errorf("%s is not in the inventory", ref)
		}
		changes = append(changes, orchestration.Change{Instance: inst, Action: action})
	}
	return changes, nil
}

// runTransaction runs changes to completion and reports the resulting logs. It
// fails when a bucket could not be compiled or a script did not succeed.
func runTransaction(ctx context.Context, w io.Writer, a *app, changes []orchestration.Change) error {
	result, err := a.manager.Orchestrate(ctx, changes...)
	if result == nil {
		return err
	}

	for _, skip := range result.Plan.Skipped {
		log.Debug().
			Str("backend", skip.Backend).
			Str("server", skip.Server).
			Str("instance", skip.Instance.String()).
			Str("reason", skip.Reason).
			Msg("Skipped")
	}
	if planErr := result.Err(); planErr != nil {
		log.Error().Err(planErr).Msg("Some buckets were not dispatched")
	}

	failed := 0
	tw := newTable(w)
	fmt.Fprintln(tw, "LOG\tBACKEND\tSERVER\tEXIT\tDURATION\tSTATE")
	for _, l := range result.Logs {
		// colour codes would skew the column widths, so the state comes last
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.Backend, l.Server, exitCode(l.ExitCode), duration(l.ExecutionTime), stateLabel(w, l.State))
		if l.State != orchestration.StateSuccess && !(l.State == orchestration.StateRevoked && a.settings.Engine.DisableExecution) {
			failed++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case err != nil:
		return err
	case result.Err() != nil:
		return fmt.Errorf("%d bucket(s) failed to route or compile", len(result.CompileErrors)+len(result.Plan.Errors))
	case failed > 0:
		return fmt.Errorf("%d script(s) did not succeed, see orchestra logs show", failed)
	}
	return nil
}
