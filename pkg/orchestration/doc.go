// Package orchestration turns model changes into idempotent shell scripts, routes
// them to servers, runs them and keeps an audit trail of every run.
//
// # Overview
//
// A transaction of model changes flows through five stages:
//
//  1. Registry - the explicit catalog of backends (one per service, e.g. dns-master)
//  2. Builder - finds the interested backends of each change and emits Operations
//  3. Router - selects target servers by evaluating Route match expressions
//  4. Compiler - runs the backend ServiceController over each (backend, server)
//     bucket and renders one script ending with the commit fragment
//  5. Engine - runs each script in a bounded worker pool and records a BackendLog
//
// The OperationLog links each BackendLog to the instances that contributed to it.
//
// # Backends
//
// Backends are descriptor structs registered at startup:
//
//	registry.MustRegister(&orchestration.Backend{
//	    Name:  "dns-master",
//	    Model: "domains.Domain",
//	    Related: []orchestration.RelatedModel{
//	        {Kind: "domains.Record", Path: "record.domain.origin", Resolve: recordOrigin},
//	    },
//	    IgnoreFields:  []string{"serial"},
//	    NewController: func() orchestration.ServiceController { return &masterController{} },
//	})
//
// A ServiceController appends shell fragments to a Script through Save and Delete
// and closes it with Commit. Fragments should render the target configuration to a
// temporary file, diff it against the live one and set UPDATED=1 only on change, so
// that Commit can reload the service once and re-running a script is a no-op.
//
// # Log states
//
//	RECEIVED -> STARTED -> SUCCESS | FAILURE | ERROR | TIMEOUT
//	RECEIVED -> REVOKED
//
// Terminal states are final. FAILURE means the script exited non-zero; ERROR means
// the script could not be dispatched; TIMEOUT keeps the output captured before the
// deadline and has no exit code.
//
// # Errors
//
// Routing and compile errors are contained per bucket: NoRouteError skips an
// optional backend, CompileError drops one bucket. Execution errors never leave the
// engine; they end up in the BackendLog.
package orchestration
