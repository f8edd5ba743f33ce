package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hostpanel/orchestra/pkg/telemetry"
)

// ScriptState is the compile state of a bucket script.
type ScriptState string

const (
	// ScriptInit is a fresh script without fragments.
	ScriptInit ScriptState = "INIT"

	// ScriptAppending is a script that received at least one fragment.
	ScriptAppending ScriptState = "APPENDING"

	// ScriptCommitted is a script whose commit hook ran. It is immutable.
	ScriptCommitted ScriptState = "COMMITTED"
)

// Banner is the comment line written into generated files and scripts.
func Banner(backend string) string {
	return "Generated by orchestra " + backend + ", do not edit"
}

// Script accumulates the shell fragments of one bucket.
type Script struct {
	backend   string
	server    string
	state     ScriptState
	fragments []string
}

// NewScript creates an empty script for a backend and server.
func NewScript(backend, server string) *Script {
	return &Script{backend: backend, server: server, state: ScriptInit}
}

// Backend returns the backend name.
func (s *Script) Backend() string { return s.backend }

// Server returns the server name.
func (s *Script) Server() string { return s.server }

// State returns the compile state.
func (s *Script) State() ScriptState { return s.state }

// Append adds a fragment. Fragments must already be shell-escaped.
func (s *Script) Append(fragment string) error {
	if s.state == ScriptCommitted {
		return fmt.Errorf("script for %s@%s is already committed", s.backend, s.server)
	}
	fragment = strings.TrimRight(fragment, "\n")
	if fragment == "" {
		return nil
	}
	s.fragments = append(s.fragments, fragment)
	s.state = ScriptAppending
	return nil
}

// Fragments returns a copy of the appended fragments.
func (s *Script) Fragments() []string {
	out := make([]string, len(s.fragments))
	copy(out, s.fragments)
	return out
}

// Text renders the script. It is only meaningful once committed.
func (s *Script) Text() string {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	b.WriteString("# " + Banner(s.backend) + "\n")
	b.WriteString("set -e\n")
	b.WriteString("set -o pipefail\n")
	b.WriteString("UPDATED=0\n")
	for _, f := range s.fragments {
		b.WriteString("\n")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("\nexit 0\n")
	return b.String()
}

// ScriptPolicy vets a compiled script before it is handed to the engine.
type ScriptPolicy interface {
	CheckScript(ctx context.Context, input ScriptCheck) error
}

// ScriptCheck is the input of a ScriptPolicy.
type ScriptCheck struct {
	Backend   string
	Server    Server
	Script    string
	Fragments []string
	Actions   []Action
}

// Compiled is a bucket together with its rendered script.
type Compiled struct {
	Bucket *Bucket
	Script *Script
}

// Text returns the rendered script.
func (c *Compiled) Text() string { return c.Script.Text() }

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithPolicy installs a script policy. A denied script fails its bucket.
func WithPolicy(p ScriptPolicy) CompilerOption {
	return func(c *Compiler) { c.policy = p }
}

// WithClock overrides the clock passed to serial refresh hooks.
func WithClock(now func() time.Time) CompilerOption {
	return func(c *Compiler) { c.now = now }
}

// WithPreview disables serial refresh hooks so compiling has no effect on instances.
func WithPreview() CompilerOption {
	return func(c *Compiler) { c.preview = true }
}

// WithCompilerLogger sets the compiler logger.
func WithCompilerLogger(logger *telemetry.Logger) CompilerOption {
	return func(c *Compiler) { c.logger = logger.NewComponentLogger("compiler") }
}

// WithCompilerTracer sets the tracer used for per-bucket compile spans.
func WithCompilerTracer(t *telemetry.Tracer) CompilerOption {
	return func(c *Compiler) { c.tracer = t }
}

// Compiler runs the backend controllers over buckets and renders their scripts.
type Compiler struct {
	policy  ScriptPolicy
	now     func() time.Time
	preview bool
	logger  *telemetry.Logger
	tracer  *telemetry.Tracer
}

// NewCompiler creates a new compiler.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		now:    time.Now,
		logger: telemetry.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RefreshSerials calls the serial hook once per distinct saved instance of the plan.
func (c *Compiler) RefreshSerials(plan *Plan) map[InstanceRef]error {
	failed := make(map[InstanceRef]error)
	if c.preview {
		return failed
	}
	done := make(map[InstanceRef]bool)
	now := c.now()
	for _, op := range plan.Operations() {
		ref := RefOf(op.Instance)
		if op.Action != ActionSave || done[ref] {
			continue
		}
		done[ref] = true
		if r, ok := op.Instance.(SerialRefresher); ok {
			if err := r.RefreshSerial(now); err != nil {
				failed[ref] = err
			}
		}
	}
	return failed
}

// CompilePlan refreshes serials and compiles every bucket. A failing bucket is
// logged and reported in the returned error map; other buckets are unaffected.
func (c *Compiler) CompilePlan(ctx context.Context, plan *Plan) ([]*Compiled, map[string]error) {
	refreshErrs := c.RefreshSerials(plan)
	errs := make(map[string]error)
	var out []*Compiled

	for _, bucket := range plan.Buckets {
		if err := bucketRefreshErr(bucket, refreshErrs); err != nil {
			c.logBucketErr(bucket, err)
			errs[bucket.Key()] = err
			continue
		}
		compiled, err := c.Compile(ctx, bucket)
		if err != nil {
			c.logBucketErr(bucket, err)
			errs[bucket.Key()] = err
			continue
		}
		out = append(out, compiled)
	}
	return out, errs
}

func bucketRefreshErr(bucket *Bucket, refreshErrs map[InstanceRef]error) error {
	for _, op := range bucket.Operations {
		if err, ok := refreshErrs[RefOf(op.Instance)]; ok {
			return NewCompileError("failed to refresh serial", err).
				WithCode(ErrCodeSerial).
				WithBackend(bucket.Backend.Name).
				WithServer(bucket.Server.Name).
				WithInstance(RefOf(op.Instance))
		}
	}
	return nil
}

func (c *Compiler) logBucketErr(bucket *Bucket, err error) {
	c.logger.WithFields(map[string]interface{}{
		"backend": bucket.Backend.Name,
		"server":  bucket.Server.Name,
	}).WithError(err).Error("Bucket compilation failed")
}

// Compile runs the controller hooks of one bucket in operation order, then the
// commit hook, and returns the committed script.
func (c *Compiler) Compile(ctx context.Context, bucket *Bucket) (compiled *Compiled, err error) {
	backend := bucket.Backend
	ctx, span := c.tracer.StartBucketSpan(ctx, "compile", backend.Name, bucket.Server.Name)
	defer func() {
		if r := recover(); r != nil {
			err = NewCompileError("controller panicked", fmt.Errorf("%v", r)).
				WithCode(ErrCodePanic).
				WithBackend(backend.Name).
				WithServer(bucket.Server.Name)
		}
		if err != nil {
			telemetry.RecordError(span, err)
		}
		span.End()
	}()

	ctl := backend.NewController()
	script := NewScript(backend.Name, bucket.Server.Name)

	for _, op := range bucket.Operations {
		var hookErr error
		switch op.Action {
		case ActionSave:
			hookErr = ctl.Save(ctx, script, op.Instance)
		case ActionDelete:
			hookErr = ctl.Delete(ctx, script, op.Instance)
		default:
			hookErr = fmt.Errorf("unsupported action %q", op.Action)
		}
		if hookErr != nil {
			return nil, NewCompileError(fmt.Sprintf("%s hook failed", op.Action), hookErr).
				WithBackend(backend.Name).
				WithServer(bucket.Server.Name).
				WithInstance(RefOf(op.Instance))
		}
	}

	if err := ctl.Commit(ctx, script); err != nil {
		return nil, NewCompileError("commit hook failed", err).
			WithBackend(backend.Name).
			WithServer(bucket.Server.Name)
	}
	script.state = ScriptCommitted

	if c.policy != nil {
		check := ScriptCheck{
			Backend:   backend.Name,
			Server:    bucket.Server,
			Script:    script.Text(),
			Fragments: script.Fragments(),
		}
		for _, op := range bucket.Operations {
			check.Actions = append(check.Actions, op.Action)
		}
		if err := c.policy.CheckScript(ctx, check); err != nil {
			return nil, NewCompileError("script denied by policy", err).
				WithCode(ErrCodePolicy).
				WithBackend(backend.Name).
				WithServer(bucket.Server.Name)
		}
	}

	return &Compiled{Bucket: bucket, Script: script}, nil
}
