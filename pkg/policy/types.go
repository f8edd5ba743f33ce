package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block a script.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny a script.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The package must define a "deny" set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with orchestra.
	Builtin bool `json:"builtin"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Fragment is the index of the offending fragment, -1 when not known.
	Fragment int `json:"fragment"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed indicates if the script may run.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block the script.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as "input".
type Input struct {
	Backend   string      `json:"backend"`
	Server    InputServer `json:"server"`
	Script    string      `json:"script"`
	Fragments []string    `json:"fragments"`
	Actions   []string    `json:"actions"`
}

// InputServer describes the target server.
type InputServer struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	OS      string `json:"os"`
	Local   bool   `json:"local"`
}

// DeniedError is returned when blocking violations were found.
type DeniedError struct {
	Backend    string
	Server     string
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("script for %s@%s denied: %s", e.Backend, e.Server, strings.Join(msgs, "; "))
}
