package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// scriptRecorder is a transport remembering every script per server.
type scriptRecorder struct {
	mu      sync.Mutex
	scripts map[string][]string
	exit    map[string]int
}

func (r *scriptRecorder) Run(_ context.Context, server Server, script string) (*ExecResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scripts == nil {
		r.scripts = make(map[string][]string)
	}
	r.scripts[server.Name] = append(r.scripts[server.Name], script)
	return &ExecResult{ExitCode: r.exit[server.Name]}, nil
}

func (r *scriptRecorder) count(server string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scripts[server])
}

func newTestManager(t *testing.T, w *testWorld, transport Transport) *Manager {
	t.Helper()
	oplog := NewOperationLog(w.store, nil, nil)
	oplog.Resolvers().Register("test.Zone", func(_ context.Context, id string) (Instance, error) {
		if z, ok := w.zones[id]; ok {
			return z, nil
		}
		return nil, fmt.Errorf("zone %s: %w", id, ErrNotFound)
	})
	oplog.Resolvers().Register("test.Site", func(_ context.Context, id string) (Instance, error) {
		if s, ok := w.sites[id]; ok {
			return s, nil
		}
		return nil, fmt.Errorf("site %s: %w", id, ErrNotFound)
	})

	engine := newTestEngine(t, EngineConfig{Workers: 2, Timeout: time.Second}, transport, w.store)
	engine.oplog = oplog
	m, err := NewManager(Components{
		Registry: w.registry,
		Router:   w.router,
		Builder:  w.builder(),
		Compiler: NewCompiler(),
		Engine:   engine,
		OpLog:    oplog,
		Logs:     w.store,
		Servers:  w.store,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestNewManagerRequiresComponents(t *testing.T) {
	if _, err := NewManager(Components{}); err == nil {
		t.Error("NewManager() without components should fail")
	}
}

func TestManagerOrchestrate(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	transport := &scriptRecorder{exit: map[string]int{"ns2": 1}}
	m := newTestManager(t, w, transport)

	result, err := m.Orchestrate(ctx,
		Change{Instance: w.zones["example.com"], Action: ActionSave},
		Change{Instance: w.zones["example.org"], Action: ActionSave},
	)
	if err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}
	if err := result.Err(); err != nil {
		t.Errorf("Result.Err() = %v", err)
	}

	got := make(map[string]State)
	for _, l := range result.Logs {
		got[l.Backend+"@"+l.Server] = l.State
	}
	want := map[string]State{
		"master@ns1": StateSuccess,
		"master@ns2": StateFailure,
		"slave@ns2":  StateFailure,
		"site@web1":  StateSuccess,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("log states mismatch (-want +got):\n%s", diff)
	}

	// one script per (backend, server) with a single commit
	if n := transport.count("ns1"); n != 1 {
		t.Errorf("ns1 ran %d scripts, want 1", n)
	}
	script := transport.scripts["ns1"][0]
	if !strings.Contains(script, "echo save example.com") || !strings.Contains(script, "echo save example.org") {
		t.Errorf("ns1 script misses an operation:\n%s", script)
	}
	if n := strings.Count(script, "echo reload"); n != 1 {
		t.Errorf("ns1 script reloads %d times", n)
	}

	// serials are refreshed once per saved zone
	if n := w.zones["example.com"].refreshCount(); n != 1 {
		t.Errorf("example.com serial refreshed %d times", n)
	}

	for _, task := range result.Tasks {
		ops, _ := m.c.OpLog.List(ctx, task.LogID())
		if len(ops) == 0 {
			t.Errorf("log %d has no operations", task.LogID())
		}
	}
}

func TestManagerPreview(t *testing.T) {
	w := newTestWorld(t)
	transport := &scriptRecorder{}
	m := newTestManager(t, w, transport)

	plan, compiled, errs := m.Preview(context.Background(), Change{Instance: w.zones["example.com"], Action: ActionSave})
	if len(errs) != 0 || plan.Err() != nil {
		t.Fatalf("Preview() errors = %v, %v", errs, plan.Err())
	}
	if len(compiled) != len(plan.Buckets) {
		t.Errorf("compiled %d of %d buckets", len(compiled), len(plan.Buckets))
	}
	if n := w.zones["example.com"].refreshCount(); n != 0 {
		t.Errorf("preview refreshed the serial %d times", n)
	}
	if n := transport.count("ns1"); n != 0 {
		t.Errorf("preview ran %d scripts", n)
	}
	if logs, _ := w.store.ListLogs(context.Background(), LogFilter{}); len(logs) != 0 {
		t.Errorf("preview created %d logs", len(logs))
	}
}

func TestManagerRetry(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	transport := &scriptRecorder{}
	m := newTestManager(t, w, transport)

	result, err := m.Orchestrate(ctx, Change{Instance: w.zones["example.com"], Action: ActionSave})
	if err != nil {
		t.Fatal(err)
	}
	var original *BackendLog
	for _, l := range result.Logs {
		if l.Backend == "master" {
			original = l
		}
	}
	if original == nil {
		t.Fatal("no master log")
	}

	t.Run("recompiles live instances", func(t *testing.T) {
		w.zones["example.com"].attrs["ttl"] = 60
		task, err := m.Retry(ctx, original.ID)
		if err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		l := waitLog(t, task)
		if l.ID == original.ID || l.State != StateSuccess {
			t.Errorf("retry log = %d %s", l.ID, l.State)
		}
		if n := w.zones["example.com"].refreshCount(); n != 2 {
			t.Errorf("recompiling should refresh the serial again, count = %d", n)
		}
		ops, _ := m.c.OpLog.List(ctx, l.ID)
		if len(ops) != 1 || ops[0].Fingerprint == "" {
			t.Errorf("retry operations = %+v", ops)
		}
	})

	t.Run("reuses the stored script when an instance is gone", func(t *testing.T) {
		delete(w.zones, "example.com")
		w.store.mu.Lock()
		w.store.logs[original.ID].Script = "echo stored"
		w.store.mu.Unlock()

		task, err := m.Retry(ctx, original.ID)
		if err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		l := waitLog(t, task)
		if l.Script != "echo stored" {
			t.Errorf("retry script = %q, want the stored one", l.Script)
		}
		ops, _ := m.c.OpLog.List(ctx, l.ID)
		if len(ops) != 1 || ops[0].Instance.ID != "example.com" {
			t.Errorf("retry operations = %+v", ops)
		}
	})

	if _, err := m.Retry(ctx, 999); err == nil {
		t.Error("Retry() of an unknown log should fail")
	}
}

func TestManagerCompileErrorIsolated(t *testing.T) {
	w := newTestWorld(t)
	site, _ := w.registry.Get("site")
	site.NewController = func() ServiceController { return &recordingController{failOn: "blog"} }
	m := newTestManager(t, w, &scriptRecorder{})

	result, err := m.Orchestrate(context.Background(), Change{Instance: w.zones["example.com"], Action: ActionSave})
	if err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}
	if _, ok := result.CompileErrors["site@web1"]; !ok {
		t.Errorf("CompileErrors = %v, want site@web1", result.CompileErrors)
	}
	if result.Err() == nil {
		t.Error("Result.Err() should report the compile error")
	}
	if len(result.Logs) != 2 {
		t.Errorf("%d logs, want the two DNS buckets to run", len(result.Logs))
	}
	if got := backendOfKey("bind9-master@ns1"); got != "bind9-master" {
		t.Errorf("backendOfKey() = %q", got)
	}
}
