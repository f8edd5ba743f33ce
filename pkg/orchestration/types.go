package orchestration

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Instance is a model instance as seen by the orchestration core.
// The model layer owns the data; the core only reads identity and attributes.
type Instance interface {
	// Kind returns the model type tag, e.g. "domains.Domain".
	Kind() string

	// ID returns the instance identifier, unique within its kind.
	ID() string

	// Attrs returns the attributes visible to route match expressions and
	// used for fingerprinting. Values are strings, bools, numbers, lists or maps.
	Attrs() map[string]any

	// String returns the display name of the instance.
	String() string
}

// SerialRefresher is implemented by instances carrying a monotonic version number
// (e.g. a DNS zone serial). The compiler calls it before rendering a save.
type SerialRefresher interface {
	RefreshSerial(now time.Time) error
}

// InstanceRef is a polymorphic reference to a model instance: a type tag plus an opaque id.
type InstanceRef struct {
	// Type is the model type tag.
	Type string `json:"type"`

	// ID is the instance identifier.
	ID string `json:"id"`
}

// RefOf returns the reference of an instance.
func RefOf(inst Instance) InstanceRef {
	return InstanceRef{Type: inst.Kind(), ID: inst.ID()}
}

// String returns "type:id".
func (r InstanceRef) String() string {
	return r.Type + ":" + r.ID
}

// ParseInstanceRef parses a "type:id" reference.
func ParseInstanceRef(v string) (InstanceRef, error) {
	i := strings.Index(v, ":")
	if i <= 0 || i == len(v)-1 {
		return InstanceRef{}, fmt.Errorf("invalid instance reference %q, expected type:id", v)
	}
	return InstanceRef{Type: v[:i], ID: v[i+1:]}, nil
}

// Server is a target of script execution.
type Server struct {
	// ID is the store identifier.
	ID int64 `json:"id"`

	// Name is the unique server name.
	Name string `json:"name" yaml:"name" validate:"required,hostname_rfc1123"`

	// Address is the host or IP the transport connects to.
	Address string `json:"address" yaml:"address" validate:"omitempty,hostname_rfc1123|ip"`

	// OS is the operating system family, e.g. "linux".
	OS string `json:"os" yaml:"os" validate:"omitempty,oneof=linux bsd darwin"`
}

// IsLocal returns true if scripts for this server run on the local host.
func (s Server) IsLocal() bool {
	switch s.Address {
	case "", "localhost":
		return true
	}
	ip := net.ParseIP(s.Address)
	return ip != nil && ip.IsLoopback()
}

// Route maps a backend plus a match predicate to a target server.
type Route struct {
	// ID is the store identifier.
	ID int64 `json:"id"`

	// Backend is the registered backend name.
	Backend string `json:"backend" yaml:"backend" validate:"required"`

	// Host is the target server name.
	Host string `json:"host" yaml:"host" validate:"required"`

	// Match is a boolean expression evaluated against the instance attributes.
	Match string `json:"match" yaml:"match"`

	// IsActive disables the route when false.
	IsActive bool `json:"is_active" yaml:"is_active"`

	// Position orders routes of the same backend; lower first.
	Position int `json:"position" yaml:"position" validate:"gte=0"`
}

// BackendLog is the persisted record of one script execution attempt.
type BackendLog struct {
	ID            int64         `json:"id"`
	Backend       string        `json:"backend"`
	Server        string        `json:"server"`
	State         State         `json:"state"`
	Script        string        `json:"script"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	Traceback     string        `json:"traceback"`
	ExitCode      *int          `json:"exit_code"`
	TaskID        string        `json:"task_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// LogUpdate holds the fields written by a state transition.
type LogUpdate struct {
	State         State
	Stdout        string
	Stderr        string
	Traceback     string
	ExitCode      *int
	ExecutionTime time.Duration
}

// Apply copies the update into the log after checking the transition.
func (l *BackendLog) Apply(u LogUpdate) error {
	if !l.State.CanTransitionTo(u.State) {
		return NewValidationError(
			fmt.Sprintf("illegal transition %s -> %s", l.State, u.State), nil,
		).WithCode(ErrCodeInvalidState)
	}
	l.State = u.State
	if u.State == StateStarted {
		return nil
	}
	l.Stdout = u.Stdout
	l.Stderr = u.Stderr
	l.Traceback = u.Traceback
	l.ExecutionTime = u.ExecutionTime
	if u.State.HasExitCode() {
		l.ExitCode = u.ExitCode
	} else {
		l.ExitCode = nil
	}
	return nil
}

// BackendOperation links a BackendLog to one instance that contributed to its script.
type BackendOperation struct {
	ID          int64       `json:"id"`
	LogID       int64       `json:"log_id"`
	Backend     string      `json:"backend"`
	Server      string      `json:"server"`
	Action      Action      `json:"action"`
	Instance    InstanceRef `json:"instance"`
	Fingerprint string      `json:"fingerprint"`
	CreatedAt   time.Time   `json:"created_at"`
}

// LogFilter selects logs in listings. Zero values match everything.
type LogFilter struct {
	State   State
	Backend string
	Server  string
	Limit   int
}

// ExecResult is what a transport reports for a finished (or cut off) script run.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Transport runs a script on a server.
// A non-zero exit status is reported through ExecResult, not as an error.
// When ctx expires the transport returns whatever output it captured together with ctx.Err().
type Transport interface {
	Run(ctx context.Context, server Server, script string) (*ExecResult, error)
}

// RouteSource provides the route table and server lookup to the router.
type RouteSource interface {
	ListRoutes(ctx context.Context, backend string) ([]Route, error)
	GetServer(ctx context.Context, name string) (*Server, error)
}

// LogStore persists BackendLogs. Transitions are conditional on the current
// state so concurrent writers (worker and revoke) cannot break monotonicity.
type LogStore interface {
	CreateLog(ctx context.Context, log *BackendLog) error
	GetLog(ctx context.Context, id int64) (*BackendLog, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]*BackendLog, error)
	LastLog(ctx context.Context, backend, server string) (*BackendLog, error)
	TransitionLog(ctx context.Context, id int64, from []State, update LogUpdate) (bool, error)
	PurgeLogs(ctx context.Context, before time.Time) (int64, error)
}

// OperationStore persists BackendOperations.
type OperationStore interface {
	CreateOperations(ctx context.Context, ops []*BackendOperation) error
	ListOperations(ctx context.Context, logID int64) ([]*BackendOperation, error)
	HasPending(ctx context.Context, ref InstanceRef, backend string) (bool, error)
	LastSuccessfulOperation(ctx context.Context, ref InstanceRef, backend, server string) (*BackendOperation, error)
}
