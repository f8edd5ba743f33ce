package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hostpanel/orchestra/pkg/telemetry"
)

// Resolver loads an instance of one model type by id. It returns an error
// wrapping ErrNotFound when the instance no longer exists.
type Resolver func(ctx context.Context, id string) (Instance, error)

// ResolverTable maps type tags to resolvers. It turns an InstanceRef back into a
// live instance.
type ResolverTable struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewResolverTable creates an empty resolver table.
func NewResolverTable() *ResolverTable {
	return &ResolverTable{resolvers: make(map[string]Resolver)}
}

// Register installs the resolver of a type tag.
func (t *ResolverTable) Register(kind string, r Resolver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolvers[kind] = r
}

// Resolve loads the instance a reference points to.
func (t *ResolverTable) Resolve(ctx context.Context, ref InstanceRef) (Instance, error) {
	t.mu.RLock()
	r, ok := t.resolvers[ref.Type]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no resolver for %s: %w", ref.Type, ErrNotFound)
	}
	return r(ctx, ref.ID)
}

// OperationLog links BackendLogs to the instances that produced them.
type OperationLog struct {
	store     OperationStore
	resolvers *ResolverTable
	logger    *telemetry.Logger
}

// NewOperationLog creates a new operation log.
func NewOperationLog(store OperationStore, resolvers *ResolverTable, logger *telemetry.Logger) *OperationLog {
	if resolvers == nil {
		resolvers = NewResolverTable()
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &OperationLog{
		store:     store,
		resolvers: resolvers,
		logger:    logger.NewComponentLogger("oplog"),
	}
}

// Resolvers returns the resolver table.
func (o *OperationLog) Resolvers() *ResolverTable {
	return o.resolvers
}

// OperationsOf converts the operations of a bucket into records, one per
// distinct (instance, action), in bucket order.
func OperationsOf(bucket *Bucket) []*BackendOperation {
	var out []*BackendOperation
	seen := make(map[string]bool)
	for _, op := range bucket.Operations {
		ref := RefOf(op.Instance)
		key := ref.String() + "|" + string(op.Action)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, &BackendOperation{
			Backend:     bucket.Backend.Name,
			Server:      bucket.Server.Name,
			Action:      op.Action,
			Instance:    ref,
			Fingerprint: op.Fingerprint,
		})
	}
	return out
}

// Record creates one BackendOperation per (log, instance) pair.
func (o *OperationLog) Record(ctx context.Context, log *BackendLog, ops []*BackendOperation) error {
	if log.ID == 0 {
		return fmt.Errorf("cannot record operations of an unsaved log")
	}
	now := time.Now().UTC()
	for _, op := range ops {
		op.LogID = log.ID
		op.Backend = log.Backend
		op.Server = log.Server
		if op.CreatedAt.IsZero() {
			op.CreatedAt = now
		}
	}
	if err := o.store.CreateOperations(ctx, ops); err != nil {
		return fmt.Errorf("failed to record operations for log %d: %w", log.ID, err)
	}
	return nil
}

// RecordInstances records instances contributing to log with the given action.
func (o *OperationLog) RecordInstances(ctx context.Context, log *BackendLog, action Action, instances ...Instance) error {
	ops := make([]*BackendOperation, 0, len(instances))
	for _, inst := range instances {
		ops = append(ops, &BackendOperation{Action: action, Instance: RefOf(inst)})
	}
	return o.Record(ctx, log, ops)
}

// List returns the operations of a log.
func (o *OperationLog) List(ctx context.Context, logID int64) ([]*BackendOperation, error) {
	return o.store.ListOperations(ctx, logID)
}

// HasPendingFor reports whether a RECEIVED or STARTED log of backend involves ref.
func (o *OperationLog) HasPendingFor(ctx context.Context, ref InstanceRef, backend string) (bool, error) {
	return o.store.HasPending(ctx, ref, backend)
}

// LastSuccessful returns the latest operation for ref on backend and server whose
// log succeeded.
func (o *OperationLog) LastSuccessful(ctx context.Context, ref InstanceRef, backend, server string) (*BackendOperation, error) {
	return o.store.LastSuccessfulOperation(ctx, ref, backend, server)
}

// Resolve loads the live instance of an operation.
func (o *OperationLog) Resolve(ctx context.Context, op *BackendOperation) (Instance, error) {
	return o.resolvers.Resolve(ctx, op.Instance)
}

// Display returns the instance name, or "deleted {type} {id}" once the instance
// is gone.
func (o *OperationLog) Display(ctx context.Context, op *BackendOperation) string {
	inst, err := o.Resolve(ctx, op)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			o.logger.WithField("instance", op.Instance.String()).WithError(err).Debug("Failed to resolve instance")
		}
		return fmt.Sprintf("deleted %s %s", op.Instance.Type, op.Instance.ID)
	}
	return inst.String()
}
