package orchestration

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an orchestration failure by the stage that produced it.
type ErrorClass string

const (
	// ErrorClassNoRoute indicates that no active route selected a server for a backend.
	// Optional backends skip the bucket; mandatory backends surface it as a validation error.
	ErrorClassNoRoute ErrorClass = "no_route"

	// ErrorClassCompile indicates a context or template rendering failure.
	// It is fatal to the affected bucket only.
	ErrorClassCompile ErrorClass = "compile"

	// ErrorClassExecution indicates an infrastructure fault while dispatching a script
	// (connection refused, authentication failure, panic). Recorded as ERROR.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassTimeout indicates the script did not exit within the deadline.
	// Recorded as TIMEOUT; the fate of the remote process is unknown.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassValidation indicates invalid configuration or input.
	ErrorClassValidation ErrorClass = "validation"
)

// OrchestrationError is a classified error carrying the backend/server/instance it
// relates to.
// nolint:revive // stutters with the package name on purpose, mirrors the error classes
type OrchestrationError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Backend is the backend name, if applicable.
	Backend string `json:"backend,omitempty"`

	// Server is the target server name, if applicable.
	Server string `json:"server,omitempty"`

	// Instance is the triggering instance reference, if applicable.
	Instance string `json:"instance,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *OrchestrationError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Backend != "" {
		msg += fmt.Sprintf(" (backend=%s", e.Backend)
		if e.Server != "" {
			msg += fmt.Sprintf(", server=%s", e.Server)
		}
		if e.Instance != "" {
			msg += fmt.Sprintf(", instance=%s", e.Instance)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// Is matches on class and, when set on the target, on code.
func (e *OrchestrationError) Is(target error) bool {
	t, ok := target.(*OrchestrationError)
	if !ok {
		return false
	}
	if t.Code != "" && e.Code != t.Code {
		return false
	}
	return e.Class == t.Class
}

// ErrNotFound is returned by stores when a server, log or operation does not exist.
var ErrNotFound = errors.New("not found")

// Sentinels usable with errors.Is.
var (
	ErrNoRoute   = &OrchestrationError{Class: ErrorClassNoRoute, Message: "no route"}
	ErrCompile   = &OrchestrationError{Class: ErrorClassCompile, Message: "compile failed"}
	ErrExecution = &OrchestrationError{Class: ErrorClassExecution, Message: "execution failed"}
	ErrTimeout   = &OrchestrationError{Class: ErrorClassTimeout, Message: "execution timed out"}
)

// NewNoRouteError creates a new no-route error for a backend and instance.
func NewNoRouteError(backend string, ref InstanceRef) *OrchestrationError {
	return &OrchestrationError{
		Class:    ErrorClassNoRoute,
		Message:  "no active route matches",
		Code:     ErrCodeNoRoute,
		Backend:  backend,
		Instance: ref.String(),
	}
}

// NewCompileError creates a new compile error.
func NewCompileError(message string, err error) *OrchestrationError {
	return &OrchestrationError{
		Class:   ErrorClassCompile,
		Message: message,
		Code:    ErrCodeCompile,
		Err:     err,
	}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *OrchestrationError {
	return &OrchestrationError{
		Class:   ErrorClassExecution,
		Message: message,
		Code:    ErrCodeTransport,
		Err:     err,
	}
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string, err error) *OrchestrationError {
	return &OrchestrationError{
		Class:   ErrorClassTimeout,
		Message: message,
		Code:    ErrCodeTimeout,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *OrchestrationError {
	return &OrchestrationError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// WithBackend adds backend context to an error.
func (e *OrchestrationError) WithBackend(backend string) *OrchestrationError {
	e.Backend = backend
	return e
}

// WithServer adds server context to an error.
func (e *OrchestrationError) WithServer(server string) *OrchestrationError {
	e.Server = server
	return e
}

// WithInstance adds instance context to an error.
func (e *OrchestrationError) WithInstance(ref InstanceRef) *OrchestrationError {
	e.Instance = ref.String()
	return e
}

// WithCode adds an error code to an error.
func (e *OrchestrationError) WithCode(code string) *OrchestrationError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *OrchestrationError) WithDetail(key string, value interface{}) *OrchestrationError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *OrchestrationError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsNoRoute returns true if the error is a no-route error.
func IsNoRoute(err error) bool { return hasClass(err, ErrorClassNoRoute) }

// IsCompile returns true if the error is a compile error.
func IsCompile(err error) bool { return hasClass(err, ErrorClassCompile) }

// IsExecution returns true if the error is an execution (infrastructure) error.
func IsExecution(err error) bool { return hasClass(err, ErrorClassExecution) }

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool { return hasClass(err, ErrorClassTimeout) }

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool { return hasClass(err, ErrorClassValidation) }

// Common error codes.
const (
	ErrCodeNoRoute       = "NO_ROUTE"
	ErrCodeCompile       = "COMPILE_FAILED"
	ErrCodePolicy        = "POLICY_DENIED"
	ErrCodeSerial        = "SERIAL_EXHAUSTED"
	ErrCodeTransport     = "TRANSPORT_FAILED"
	ErrCodePanic         = "PANIC"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInvalidState  = "INVALID_STATE"
	ErrCodeUnknownServer = "UNKNOWN_SERVER"
)
