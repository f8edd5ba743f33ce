package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hostpanel/orchestra/pkg/backends"
	"github.com/hostpanel/orchestra/pkg/config"
	"github.com/hostpanel/orchestra/pkg/models"
	"github.com/hostpanel/orchestra/pkg/orchestration"
	"github.com/hostpanel/orchestra/pkg/policy"
	"github.com/hostpanel/orchestra/pkg/stores"
	"github.com/hostpanel/orchestra/pkg/telemetry"
	"github.com/hostpanel/orchestra/pkg/transports"
	"github.com/hostpanel/orchestra/pkg/transports/local"
	"github.com/hostpanel/orchestra/pkg/transports/ssh"
)

const shutdownTimeout = 30 * time.Second

// app holds the wired orchestrator of one CLI invocation.
type app struct {
	settings  *config.Settings
	tel       *telemetry.Telemetry
	store     *stores.SQLiteStore
	schemas   *config.SchemaRegistry
	catalog   *models.Catalog
	registry  *orchestration.Registry
	router    *orchestration.Router
	oplog     *orchestration.OperationLog
	policies  *policy.Engine
	engine    *orchestration.Engine
	manager   *orchestration.Manager
	remote    *ssh.Transport
	inventory *config.Inventory
}

// openApp loads settings and wires every component. Nothing is executed until
// a transaction is dispatched.
func openApp(ctx context.Context) (*app, error) {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if settings.Engine.DisableExecution {
		log.Warn().Msg("Execution is disabled: backend logs are recorded and closed as REVOKED without running")
	}

	a := &app{settings: settings, tel: tel, schemas: config.NewSchemaRegistry()}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	logger := a.tel.Logger

	store, err := stores.NewSQLiteStore(a.settings.StoreConfig())
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	a.store = store
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	serials := models.NewSerialBook(store)
	if err := serials.Load(ctx); err != nil {
		return err
	}
	a.catalog = models.NewCatalog(serials, a.settings.SnapshotOptions())

	a.registry = orchestration.NewRegistry()
	a.router = orchestration.NewRouter(store, logger)
	if err := backends.Register(a.registry, a.router, a.settings.Backends(), a.catalog); err != nil {
		return fmt.Errorf("failed to register backends: %w", err)
	}

	a.oplog = orchestration.NewOperationLog(store, nil, logger)
	a.catalog.Register(a.oplog.Resolvers())

	compilerOpts := []orchestration.CompilerOption{
		orchestration.WithCompilerLogger(logger),
		orchestration.WithCompilerTracer(a.tel.Tracer),
	}
	if a.settings.Policy.Enabled {
		a.policies, err = policy.NewEngine(logger.Zerolog())
		if err != nil {
			return err
		}
		if dir := a.settings.Policy.Dir; dir != "" {
			if err := a.policies.LoadPolicies(ctx, []string{dir}); err != nil {
				return err
			}
		}
		compilerOpts = append(compilerOpts, orchestration.WithPolicy(&policyGate{
			engine: a.policies,
			events: a.tel.Events,
		}))
	}

	transport := &transports.Dispatcher{Local: local.New(a.settings.Local, logger)}
	sshCfg := a.settings.SSH
	if remote, err := ssh.NewTransport(&sshCfg, logger); err != nil {
		log.Debug().Err(err).Msg("SSH transport unavailable, remote servers cannot be reached")
		transport.Remote = unavailable{err: err}
	} else {
		a.remote = remote
		transport.Remote = remote
	}

	a.engine = orchestration.NewEngine(a.settings.EngineConfig(), transport, store,
		orchestration.WithOperationLog(a.oplog),
		orchestration.WithEngineLogger(logger),
		orchestration.WithMetrics(a.tel.Metrics),
		orchestration.WithTracer(a.tel.Tracer),
		orchestration.WithEvents(a.tel.Events),
	)

	builderOpts := []orchestration.BuilderOption{
		orchestration.WithBuilderLogger(logger),
		orchestration.WithBuilderTracer(a.tel.Tracer),
	}
	if a.settings.Engine.SkipUnchanged {
		builderOpts = append(builderOpts, orchestration.WithSkipUnchanged(a.oplog))
	}

	a.manager, err = orchestration.NewManager(orchestration.Components{
		Registry: a.registry,
		Router:   a.router,
		Builder:  orchestration.NewBuilder(a.registry, a.router, builderOpts...),
		Compiler: orchestration.NewCompiler(compilerOpts...),
		Engine:   a.engine,
		OpLog:    a.oplog,
		Logs:     store,
		Servers:  store,
	},
		orchestration.WithManagerLogger(logger),
		orchestration.WithManagerTracer(a.tel.Tracer),
		orchestration.WithManagerMetrics(a.tel.Metrics),
	)
	return err
}

// loadInventory reads the inventory, syncs servers and routes into the store
// and loads the models. It returns the model changes against the previous
// inventory, which is empty on the first load.
func (a *app) loadInventory(ctx context.Context) ([]orchestration.Change, error) {
	inv, err := config.LoadInventory(a.settings.Inventory.Path, a.schemas)
	if err != nil {
		a.tel.Metrics.RecordInventoryReload("error")
		return nil, err
	}
	return a.applyInventory(ctx, inv)
}

func (a *app) applyInventory(ctx context.Context, inv *config.Inventory) (changes []orchestration.Change, err error) {
	op := telemetry.StartOperation(ctx, "inventory.reload")
	defer func() {
		op.End(err)
		if err != nil {
			a.tel.Metrics.RecordInventoryReload("error")
		}
	}()

	if err := a.store.SyncInventory(op.Ctx, inv.StoreInventory(a.registry)); err != nil {
		return nil, fmt.Errorf("failed to sync inventory: %w", err)
	}
	changes, err = a.catalog.Load(inv.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	a.inventory = inv
	a.tel.Metrics.RecordInventoryReload("ok")
	_ = a.tel.Events.PublishInventoryReloaded(a.settings.Inventory.Path, len(changes))
	op.Logger.WithFields(map[string]interface{}{
		"changes":  len(changes),
		"duration": op.Timer.Duration().String(),
	}).Debug("Inventory applied")
	return changes, nil
}

// close stops the engine and releases every resource.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Shutdown(ctx))
	}
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.tel.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// policyGate publishes an event for every denied script.
type policyGate struct {
	engine *policy.Engine
	events *telemetry.EventPublisher
}

func (g *policyGate) CheckScript(ctx context.Context, check orchestration.ScriptCheck) error {
	err := g.engine.CheckScript(ctx, check)
	var denied *policy.DeniedError
	if errors.As(err, &denied) {
		_ = g.events.PublishPolicyViolation(check.Backend, check.Server.Name, denied.Error())
	}
	return err
}

// unavailable fails every run with the reason the transport could not be created.
type unavailable struct {
	err error
}

func (u unavailable) Run(_ context.Context, server orchestration.Server, _ string) (*orchestration.ExecResult, error) {
	return nil, fmt.Errorf("cannot reach %s: ssh transport unavailable: %w", server.Name, u.err)
}
