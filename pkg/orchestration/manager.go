package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hostpanel/orchestra/pkg/telemetry"
)

// Components are the collaborators a Manager drives.
type Components struct {
	Registry *Registry
	Router   *Router
	Builder  *Builder
	Compiler *Compiler
	Engine   *Engine
	OpLog    *OperationLog
	Logs     LogStore
	Servers  RouteSource
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *telemetry.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger.NewComponentLogger("manager") }
}

// WithManagerTracer sets the tracer.
func WithManagerTracer(t *telemetry.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = t }
}

// WithManagerMetrics sets the metrics collector.
func WithManagerMetrics(mt *telemetry.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// Manager runs the whole pipeline for a transaction of model changes:
// build, route, group, compile, then submit one task per bucket.
type Manager struct {
	c       Components
	logger  *telemetry.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

// NewManager creates a new manager.
func NewManager(c Components, opts ...ManagerOption) (*Manager, error) {
	switch {
	case c.Registry == nil:
		return nil, fmt.Errorf("registry is required")
	case c.Builder == nil:
		return nil, fmt.Errorf("builder is required")
	case c.Compiler == nil:
		return nil, fmt.Errorf("compiler is required")
	case c.Engine == nil:
		return nil, fmt.Errorf("engine is required")
	case c.OpLog == nil:
		return nil, fmt.Errorf("operation log is required")
	case c.Logs == nil || c.Servers == nil:
		return nil, fmt.Errorf("log store and server source are required")
	}
	m := &Manager{c: c, logger: telemetry.NewNopLogger()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Components returns the manager collaborators.
func (m *Manager) Components() Components {
	return m.c
}

// Result is the outcome of one transaction.
type Result struct {
	// Plan is the grouped operation plan.
	Plan *Plan

	// Tasks are the submitted tasks, in bucket order.
	Tasks []*Task

	// Logs are the terminal logs when the result was waited for.
	Logs []*BackendLog

	// CompileErrors maps bucket keys to their compile failure.
	CompileErrors map[string]error
}

// Err joins plan and compile errors. Execution outcomes are in Logs, not here.
func (r *Result) Err() error {
	errs := append([]error{}, r.Plan.Errors...)
	keys := make([]string, 0, len(r.CompileErrors))
	for k := range r.CompileErrors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		errs = append(errs, r.CompileErrors[k])
	}
	return errors.Join(errs...)
}

// Dispatch builds, compiles and submits the changes without waiting for execution.
func (m *Manager) Dispatch(ctx context.Context, changes ...Change) (*Result, error) {
	ctx, span := m.tracer.StartSpan(ctx, "orchestra.dispatch", telemetry.AttrChanges.Int(len(changes)))
	defer span.End()

	plan := m.c.Builder.Plan(ctx, changes...)
	for _, skip := range plan.Skipped {
		m.metrics.RecordSkip(skip.Backend, skip.Reason)
	}

	compiled, compileErrs := m.c.Compiler.CompilePlan(ctx, plan)
	for key, err := range compileErrs {
		m.metrics.RecordCompile(backendOfKey(key), "error")
		m.metrics.RecordError(string(ErrorClassCompile), codeOf(err))
	}

	result := &Result{Plan: plan, CompileErrors: compileErrs}
	var submitErrs []error
	for _, c := range compiled {
		m.metrics.RecordCompile(c.Bucket.Backend.Name, "ok")
		task, err := m.c.Engine.Submit(ctx, Job{
			Backend:    c.Bucket.Backend.Name,
			Server:     c.Bucket.Server,
			Script:     c.Text(),
			Operations: OperationsOf(c.Bucket),
		})
		if err != nil {
			m.logger.WithField("bucket", c.Bucket.Key()).WithError(err).Error("Failed to submit bucket")
			submitErrs = append(submitErrs, fmt.Errorf("bucket %s: %w", c.Bucket.Key(), err))
			continue
		}
		result.Tasks = append(result.Tasks, task)
	}

	m.logger.WithFields(map[string]interface{}{
		"changes":  len(changes),
		"buckets":  len(plan.Buckets),
		"skipped":  len(plan.Skipped),
		"compiled": len(compiled),
		"tasks":    len(result.Tasks),
	}).Info("Changes dispatched")

	if err := errors.Join(submitErrs...); err != nil {
		telemetry.RecordError(span, err)
		return result, err
	}
	return result, nil
}

// Orchestrate dispatches the changes and waits for every task to finish.
func (m *Manager) Orchestrate(ctx context.Context, changes ...Change) (*Result, error) {
	result, err := m.Dispatch(ctx, changes...)
	if result == nil {
		return nil, err
	}
	for _, task := range result.Tasks {
		log, waitErr := task.Wait(ctx)
		if waitErr != nil {
			return result, errors.Join(err, waitErr)
		}
		result.Logs = append(result.Logs, log)
	}
	return result, err
}

// Preview builds and compiles the changes without submitting or refreshing serials.
func (m *Manager) Preview(ctx context.Context, changes ...Change) (*Plan, []*Compiled, map[string]error) {
	plan := m.c.Builder.Plan(ctx, changes...)
	preview := *m.c.Compiler
	preview.preview = true
	compiled, errs := preview.CompilePlan(ctx, plan)
	return plan, compiled, errs
}

// Retry re-submits the operation set of a stored log. When every instance still
// resolves the bucket is recompiled against current state; otherwise the stored
// script is resubmitted verbatim.
func (m *Manager) Retry(ctx context.Context, logID int64) (*Task, error) {
	log, err := m.c.Logs.GetLog(ctx, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to get log %d: %w", logID, err)
	}
	ops, err := m.c.OpLog.List(ctx, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations of log %d: %w", logID, err)
	}
	server, err := m.c.Servers.GetServer(ctx, log.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to get server %s: %w", log.Server, err)
	}

	logger := m.logger.WithFields(map[string]interface{}{
		"log_id":  logID,
		"backend": log.Backend,
		"server":  log.Server,
	})

	if bucket, ok := m.rebuild(ctx, log, *server, ops); ok {
		plan := &Plan{Buckets: []*Bucket{bucket}}
		compiled, errs := m.c.Compiler.CompilePlan(ctx, plan)
		if len(compiled) == 1 {
			logger.Info("Retrying with a recompiled script")
			return m.c.Engine.Submit(ctx, Job{
				Backend:    log.Backend,
				Server:     *server,
				Script:     compiled[0].Text(),
				Operations: OperationsOf(bucket),
			})
		}
		logger.WithError(errs[bucket.Key()]).Warn("Recompilation failed, resubmitting stored script")
	}

	copies := make([]*BackendOperation, 0, len(ops))
	for _, op := range ops {
		copies = append(copies, &BackendOperation{
			Action:      op.Action,
			Instance:    op.Instance,
			Fingerprint: op.Fingerprint,
		})
	}
	logger.Info("Retrying with the stored script")
	return m.c.Engine.Submit(ctx, Job{
		Backend:    log.Backend,
		Server:     *server,
		Script:     log.Script,
		Operations: copies,
	})
}

func (m *Manager) rebuild(ctx context.Context, log *BackendLog, server Server, ops []*BackendOperation) (*Bucket, bool) {
	backend, ok := m.c.Registry.Get(log.Backend)
	if !ok || len(ops) == 0 {
		return nil, false
	}
	bucket := &Bucket{Backend: backend, Server: server}
	for _, op := range ops {
		inst, err := m.c.OpLog.Resolve(ctx, op)
		if err != nil {
			return nil, false
		}
		fp := ""
		if op.Action == ActionSave {
			fp = Fingerprint(inst, backend.IgnoreFields)
		}
		bucket.Operations = append(bucket.Operations, &Operation{
			Backend:     backend,
			Instance:    inst,
			Trigger:     op.Instance,
			Action:      op.Action,
			Server:      server,
			Fingerprint: fp,
		})
	}
	return bucket, true
}

func backendOfKey(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '@' {
			return key[:i]
		}
	}
	return key
}

func codeOf(err error) string {
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}
