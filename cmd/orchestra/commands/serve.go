package commands

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostpanel/orchestra/pkg/config"
	"github.com/hostpanel/orchestra/pkg/orchestration"
	"github.com/hostpanel/orchestra/pkg/policy"
)

func newServeCommand() *cobra.Command {
	var applyOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator until interrupted",
		Long: `Start the worker pool and keep it running. While serving:

  - edits to the inventory file are dispatched as save and delete operations
  - policy files are reloaded when they change
  - finished logs are purged on the configured schedule
  - metrics are exposed over HTTP when enabled

The first inventory load is the baseline and dispatches nothing unless
--apply is given.`,
		Example: `  orchestra serve
  orchestra serve --apply -c /etc/orchestra/orchestra.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			return a.serve(ctx, applyOnStart)
		},
	}

	cmd.Flags().BoolVar(&applyOnStart, "apply", false, "save every instance of the inventory on start")

	return cmd
}

func (a *app) serve(ctx context.Context, applyOnStart bool) error {
	logger := a.tel.Logger.NewComponentLogger("serve")
	ctx = a.tel.WithContext(ctx)

	if _, err := a.loadInventory(ctx); err != nil {
		return err
	}
	a.engine.Start()

	if applyOnStart {
		changes := make([]orchestration.Change, 0)
		for _, inst := range a.catalog.Snapshot().Instances() {
			changes = append(changes, orchestration.Change{Instance: inst, Action: orchestration.ActionSave})
		}
		a.dispatch(ctx, changes)
	}

	if srv := a.tel.Metrics.StartMetricsServer(func(err error) {
		logger.WithError(err).Error("Metrics server failed")
	}); srv != nil {
		defer shutdownServer(srv)
		logger.WithField("address", srv.Addr).Info("Serving metrics")
	}

	janitor, err := orchestration.NewJanitor(a.store, a.settings.Purge.Retention, a.settings.Purge.Schedule, a.tel.Logger)
	if err != nil {
		return err
	}
	if err := janitor.Start(ctx); err != nil {
		return err
	}
	defer janitor.Stop()

	if a.settings.Inventory.Watch {
		// reloads may fire from overlapping timers
		var mu sync.Mutex
		watcher := config.NewWatcher(a.settings.Inventory.Path, a.schemas, a.tel.Logger)
		err := watcher.Watch(ctx, func(inv *config.Inventory) {
			mu.Lock()
			defer mu.Unlock()
			changes, err := a.applyInventory(ctx, inv)
			if err != nil {
				logger.WithError(err).Error("Failed to apply inventory")
				return
			}
			a.dispatch(ctx, changes)
		})
		if err != nil {
			return err
		}
	}

	if a.policies != nil && a.settings.Policy.Dir != "" {
		loader := policy.NewLoader(a.tel.Logger.Zerolog())
		err := loader.Watch(ctx, []string{a.settings.Policy.Dir}, func(policies []policy.Policy) error {
			return a.policies.Replace(ctx, policies)
		})
		if err != nil {
			return err
		}
	}

	log.Info().
		Str("inventory", a.settings.Inventory.Path).
		Int("workers", a.settings.Engine.Workers).
		Msg("Orchestrator running")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}

// dispatch submits changes and reports what could not be dispatched. Execution
// outcomes are recorded in the backend logs.
func (a *app) dispatch(ctx context.Context, changes []orchestration.Change) {
	if len(changes) == 0 {
		return
	}
	result, err := a.manager.Dispatch(ctx, changes...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to submit scripts")
	}
	if result == nil {
		return
	}
	if planErr := result.Err(); planErr != nil {
		log.Error().Err(planErr).Msg("Some buckets were not dispatched")
	}
	log.Info().
		Int("changes", len(changes)).
		Int("tasks", len(result.Tasks)).
		Int("skipped", len(result.Plan.Skipped)).
		Msg("Inventory changes dispatched")
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
}
