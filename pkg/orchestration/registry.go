package orchestration

import (
	"context"
	"fmt"
	"sync"
)

// ServiceController is the per-bucket script builder of a backend.
// A fresh controller is created for every bucket, so implementations may keep
// bucket-local state between Save/Delete calls and Commit.
type ServiceController interface {
	// Save appends the fragments applying the instance's current state.
	Save(ctx context.Context, s *Script, inst Instance) error

	// Delete appends the fragments removing the instance.
	Delete(ctx context.Context, s *Script, inst Instance) error

	// Commit appends the closing fragment, typically a conditional reload.
	Commit(ctx context.Context, s *Script) error
}

// ContextProvider is implemented by controllers that can expose the typed
// template context of an instance for previews. It must be side-effect free.
type ContextProvider interface {
	Context(ctx context.Context, inst Instance) (any, error)
}

// RelatedModel declares that changes to instances of Kind affect the backend's
// own model instances returned by Resolve.
type RelatedModel struct {
	// Kind is the related model type tag.
	Kind string

	// Path documents the relation, e.g. "domain.origin".
	Path string

	// Resolve returns the backend model instances affected by a change to inst.
	Resolve func(ctx context.Context, inst Instance) ([]Instance, error)
}

// Backend describes one service plugin.
type Backend struct {
	// Name is the unique registry key, also stored on routes and logs.
	Name string

	// VerboseName is the human-readable name.
	VerboseName string

	// Model is the model type tag the backend renders.
	Model string

	// Related lists the models whose changes propagate to Model instances.
	Related []RelatedModel

	// IsMain restricts which Model instances are handled directly. Nil accepts all.
	IsMain func(Instance) bool

	// Multiple allows the router to return every matching server instead of the first.
	Multiple bool

	// Mandatory turns a missing route into a validation error instead of a skip.
	Mandatory bool

	// DefaultRouteMatch is the match expression used for routes created without one.
	DefaultRouteMatch string

	// Fallback names a server used when no route matches.
	Fallback string

	// IgnoreFields are attribute names excluded from change fingerprints.
	IgnoreFields []string

	// NewController creates the script builder for one bucket.
	NewController func() ServiceController
}

// Actions returns the actions the backend handles.
func (b *Backend) Actions() []Action {
	return []Action{ActionSave, ActionDelete}
}

// Handles reports whether the backend reacts to instances of kind.
func (b *Backend) Handles(kind string) bool {
	if b.Model == kind {
		return true
	}
	for _, rel := range b.Related {
		if rel.Kind == kind {
			return true
		}
	}
	return false
}

func (b *Backend) isMain(inst Instance) bool {
	if inst.Kind() != b.Model {
		return false
	}
	return b.IsMain == nil || b.IsMain(inst)
}

// Validate checks the descriptor.
func (b *Backend) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	if b.Model == "" {
		return fmt.Errorf("backend %s: model is required", b.Name)
	}
	if b.NewController == nil {
		return fmt.Errorf("backend %s: controller factory is required", b.Name)
	}
	for _, rel := range b.Related {
		if rel.Kind == "" || rel.Resolve == nil {
			return fmt.Errorf("backend %s: related model %q needs a kind and a resolver", b.Name, rel.Path)
		}
	}
	return nil
}

// Registry is the catalog of backends, populated by explicit registration at startup.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]*Backend)}
}

// Register adds a backend. Names must be unique.
func (r *Registry) Register(b *Backend) error {
	if err := b.Validate(); err != nil {
		return NewValidationError("invalid backend", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[b.Name]; exists {
		return NewValidationError(fmt.Sprintf("backend %s already registered", b.Name), nil)
	}
	r.backends[b.Name] = b
	r.order = append(r.order, b.Name)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(b *Backend) {
	if err := r.Register(b); err != nil {
		panic(err)
	}
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// List returns the backends in registration order.
func (r *Registry) List() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Backend, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

// Interested returns the backends reacting to instances of kind, in registration order.
func (r *Registry) Interested(kind string) []*Backend {
	var out []*Backend
	for _, b := range r.List() {
		if b.Handles(kind) {
			out = append(out, b)
		}
	}
	return out
}
