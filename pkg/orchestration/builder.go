package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/hostpanel/orchestra/pkg/telemetry"
)

// Change is a model change event: an instance and what happened to it.
type Change struct {
	Instance Instance
	Action   Action
}

// Operation is one pending unit of work. It is never persisted directly; it lives
// from Build until its bucket has been compiled.
type Operation struct {
	// Backend is the backend rendering the operation.
	Backend *Backend

	// Instance is the backend model instance the script is rendered for.
	Instance Instance

	// Trigger is the changed instance that caused the operation. It differs from
	// Instance when the change propagated through a related model.
	Trigger InstanceRef

	// Action is what to do with Instance.
	Action Action

	// Server is the routed target.
	Server Server

	// Fingerprint hashes the instance attributes minus the backend's ignored fields.
	Fingerprint string
}

func (o *Operation) key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", o.Backend.Name, o.Server.Name, o.Trigger, RefOf(o.Instance), o.Action)
}

// String returns a short description of the operation.
func (o *Operation) String() string {
	return fmt.Sprintf("%s.%s(%s)@%s", o.Backend.Name, o.Action, RefOf(o.Instance), o.Server.Name)
}

// Bucket is the set of operations sharing a (backend, server) pair, in creation order.
// A bucket compiles into exactly one script.
type Bucket struct {
	Backend    *Backend
	Server     Server
	Operations []*Operation
}

// Key returns "backend@server".
func (b *Bucket) Key() string {
	return b.Backend.Name + "@" + b.Server.Name
}

// Skip records an operation that was not emitted and why.
type Skip struct {
	Backend  string
	Server   string
	Instance InstanceRef
	Reason   string
}

// Plan is the grouped result of building operations for one transaction.
type Plan struct {
	// Buckets in order of first appearance.
	Buckets []*Bucket

	// Skipped operations (no route for optional backends, unchanged instances).
	Skipped []Skip

	// Errors holds routing failures and validation errors of mandatory backends.
	Errors []error
}

// Operations returns every operation of the plan in bucket order.
func (p *Plan) Operations() []*Operation {
	var ops []*Operation
	for _, b := range p.Buckets {
		ops = append(ops, b.Operations...)
	}
	return ops
}

// Err joins the plan errors.
func (p *Plan) Err() error {
	return errors.Join(p.Errors...)
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithSkipUnchanged makes the builder drop SAVE operations whose fingerprint equals
// the last successful run for the same instance, backend and server.
func WithSkipUnchanged(oplog *OperationLog) BuilderOption {
	return func(b *Builder) {
		b.oplog = oplog
		b.skipUnchanged = oplog != nil
	}
}

// WithBuilderTracer sets the tracer used for plan spans.
func WithBuilderTracer(t *telemetry.Tracer) BuilderOption {
	return func(b *Builder) { b.tracer = t }
}

// WithBuilderLogger sets the builder logger.
func WithBuilderLogger(logger *telemetry.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger.NewComponentLogger("builder")
	}
}

// Builder turns model changes into routed operations grouped per (backend, server).
type Builder struct {
	registry      *Registry
	router        *Router
	oplog         *OperationLog
	skipUnchanged bool
	logger        *telemetry.Logger
	tracer        *telemetry.Tracer
}

// NewBuilder creates a new operation builder.
func NewBuilder(registry *Registry, router *Router, opts ...BuilderOption) *Builder {
	b := &Builder{
		registry: registry,
		router:   router,
		logger:   telemetry.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the operations caused by one change of inst. Backends without a
// matching route are skipped, unless they are mandatory, in which case a
// validation error is returned alongside the operations of the other backends.
func (b *Builder) Build(ctx context.Context, inst Instance, action Action) ([]*Operation, error) {
	ops, _, errs := b.build(ctx, inst, action)
	return ops, errors.Join(errs...)
}

func (b *Builder) build(ctx context.Context, inst Instance, action Action) ([]*Operation, []Skip, []error) {
	var (
		ops   []*Operation
		skips []Skip
		errs  []error
	)
	trigger := RefOf(inst)

	for _, backend := range b.registry.Interested(inst.Kind()) {
		targets, targetAction, err := b.targets(ctx, backend, inst, action)
		if err != nil {
			errs = append(errs, NewCompileError("failed to resolve related instances", err).
				WithBackend(backend.Name).WithInstance(trigger))
			continue
		}

		for _, target := range targets {
			servers, err := b.router.Servers(ctx, backend, target)
			if err != nil {
				if IsNoRoute(err) {
					if backend.Mandatory {
						errs = append(errs, NewValidationError(
							fmt.Sprintf("%s requires a route for %s", backend.Name, RefOf(target)), err,
						).WithBackend(backend.Name).WithInstance(RefOf(target)))
						continue
					}
					b.logger.WithFields(map[string]interface{}{
						"backend":  backend.Name,
						"instance": RefOf(target).String(),
					}).Debug("No route matched, skipping backend")
					skips = append(skips, Skip{Backend: backend.Name, Instance: RefOf(target), Reason: "no route"})
					continue
				}
				errs = append(errs, err)
				continue
			}

			fp := ""
			if targetAction == ActionSave {
				fp = Fingerprint(target, backend.IgnoreFields)
			}
			for _, server := range servers {
				ops = append(ops, &Operation{
					Backend:     backend,
					Instance:    target,
					Trigger:     trigger,
					Action:      targetAction,
					Server:      server,
					Fingerprint: fp,
				})
			}
		}
	}
	return ops, skips, errs
}

// targets resolves which backend model instances a change affects. The instance
// itself is a target when the backend accepts it as main; otherwise the related
// model declarations are followed and the affected instances are saved.
func (b *Builder) targets(ctx context.Context, backend *Backend, inst Instance, action Action) ([]Instance, Action, error) {
	if backend.isMain(inst) {
		return []Instance{inst}, action, nil
	}
	var out []Instance
	seen := make(map[InstanceRef]bool)
	for _, rel := range backend.Related {
		if rel.Kind != inst.Kind() {
			continue
		}
		resolved, err := rel.Resolve(ctx, inst)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", rel.Path, err)
		}
		for _, r := range resolved {
			if r == nil {
				continue
			}
			ref := RefOf(r)
			if seen[ref] || !backend.isMain(r) {
				continue
			}
			seen[ref] = true
			out = append(out, r)
		}
	}
	return out, ActionSave, nil
}

// Plan builds and groups the operations of a transaction. Buckets are keyed by
// (backend, server); within a bucket operations keep the order of the changes.
// Exact duplicates (same backend, server, trigger, instance and action) are merged.
func (b *Builder) Plan(ctx context.Context, changes ...Change) *Plan {
	ctx, span := b.tracer.StartSpan(ctx, "orchestra.plan", telemetry.AttrChanges.Int(len(changes)))
	defer span.End()

	plan := &Plan{}
	buckets := make(map[string]*Bucket)
	seen := make(map[string]bool)

	for _, change := range changes {
		ops, skips, errs := b.build(ctx, change.Instance, change.Action)
		plan.Skipped = append(plan.Skipped, skips...)
		plan.Errors = append(plan.Errors, errs...)

		for _, op := range ops {
			if seen[op.key()] {
				continue
			}
			seen[op.key()] = true

			if skip, ok := b.unchanged(ctx, op); ok {
				plan.Skipped = append(plan.Skipped, skip)
				continue
			}

			key := op.Backend.Name + "@" + op.Server.Name
			bucket, ok := buckets[key]
			if !ok {
				bucket = &Bucket{Backend: op.Backend, Server: op.Server}
				buckets[key] = bucket
				plan.Buckets = append(plan.Buckets, bucket)
			}
			bucket.Operations = append(bucket.Operations, op)
		}
	}
	return plan
}

func (b *Builder) unchanged(ctx context.Context, op *Operation) (Skip, bool) {
	if !b.skipUnchanged || op.Action != ActionSave {
		return Skip{}, false
	}
	ref := RefOf(op.Instance)
	pending, err := b.oplog.HasPendingFor(ctx, ref, op.Backend.Name)
	if err != nil || pending {
		return Skip{}, false
	}
	last, err := b.oplog.LastSuccessful(ctx, ref, op.Backend.Name, op.Server.Name)
	if err != nil || last.Action != ActionSave || last.Fingerprint != op.Fingerprint {
		return Skip{}, false
	}
	return Skip{Backend: op.Backend.Name, Server: op.Server.Name, Instance: ref, Reason: "unchanged"}, true
}
