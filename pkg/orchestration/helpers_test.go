package orchestration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// testInstance is a minimal model instance.
type testInstance struct {
	kind  string
	id    string
	attrs map[string]any

	mu        sync.Mutex
	refreshed int
	refresh   error
}

func newInstance(kind, id string, attrs map[string]any) *testInstance {
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrs["name"] = id
	return &testInstance{kind: kind, id: id, attrs: attrs}
}

func (i *testInstance) Kind() string          { return i.kind }
func (i *testInstance) ID() string            { return i.id }
func (i *testInstance) Attrs() map[string]any { return i.attrs }
func (i *testInstance) String() string        { return i.id }

func (i *testInstance) RefreshSerial(time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.refresh != nil {
		return i.refresh
	}
	i.refreshed++
	return nil
}

func (i *testInstance) refreshCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refreshed
}

// recordingController writes one fragment per hook.
type recordingController struct {
	failOn string
	panics bool
}

func (c *recordingController) Save(_ context.Context, s *Script, inst Instance) error {
	if c.panics {
		panic("boom")
	}
	if inst.ID() == c.failOn {
		return fmt.Errorf("cannot render %s", inst.ID())
	}
	return s.Append("echo save " + inst.ID())
}

func (c *recordingController) Delete(_ context.Context, s *Script, inst Instance) error {
	return s.Append("echo delete " + inst.ID())
}

func (c *recordingController) Commit(_ context.Context, s *Script) error {
	return s.Append(`if [[ $UPDATED == 1 ]]; then echo reload; fi`)
}

func testBackend(name, model string) *Backend {
	return &Backend{
		Name:          name,
		VerboseName:   strings.ToUpper(name),
		Model:         model,
		NewController: func() ServiceController { return &recordingController{} },
	}
}

// memStore is an in-memory RouteSource, LogStore and OperationStore.
type memStore struct {
	mu      sync.Mutex
	servers map[string]Server
	routes  []Route
	logs    map[int64]*BackendLog
	ops     []*BackendOperation
	nextLog int64
	nextOp  int64
}

func newMemStore() *memStore {
	return &memStore{servers: make(map[string]Server), logs: make(map[int64]*BackendLog)}
}

func (m *memStore) addServer(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		m.servers[name] = Server{ID: int64(len(m.servers) + 1), Name: name}
	}
}

func (m *memStore) addRoute(backend, host, match string, position int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, Route{
		ID:       int64(len(m.routes) + 1),
		Backend:  backend,
		Host:     host,
		Match:    match,
		IsActive: true,
		Position: position,
	})
}

func (m *memStore) ListRoutes(_ context.Context, backend string) ([]Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Route
	for _, r := range m.routes {
		if r.Backend == backend {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetServer(_ context.Context, name string) (*Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[name]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", name, ErrNotFound)
	}
	return &s, nil
}

func (m *memStore) CreateLog(_ context.Context, log *BackendLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLog++
	log.ID = m.nextLog
	l := *log
	m.logs[l.ID] = &l
	return nil
}

func (m *memStore) GetLog(_ context.Context, id int64) (*BackendLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return nil, fmt.Errorf("log %d: %w", id, ErrNotFound)
	}
	c := *l
	return &c, nil
}

func (m *memStore) ListLogs(_ context.Context, filter LogFilter) ([]*BackendLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*BackendLog
	for _, l := range m.logs {
		if (filter.State != "" && l.State != filter.State) ||
			(filter.Backend != "" && l.Backend != filter.Backend) ||
			(filter.Server != "" && l.Server != filter.Server) {
			continue
		}
		c := *l
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) LastLog(ctx context.Context, backend, server string) (*BackendLog, error) {
	logs, _ := m.ListLogs(ctx, LogFilter{Backend: backend, Server: server, Limit: 1})
	if len(logs) == 0 {
		return nil, ErrNotFound
	}
	return logs[0], nil
}

func (m *memStore) TransitionLog(ctx context.Context, id int64, from []State, update LogUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return false, fmt.Errorf("log %d: %w", id, ErrNotFound)
	}
	for _, s := range from {
		if l.State == s {
			if err := l.Apply(update); err != nil {
				return false, err
			}
			l.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) PurgeLogs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, l := range m.logs {
		if l.State.IsTerminal() && l.CreatedAt.Before(before) {
			delete(m.logs, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) setState(id int64, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[id].State = state
}

func (m *memStore) CreateOperations(_ context.Context, ops []*BackendOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		m.nextOp++
		op.ID = m.nextOp
		c := *op
		m.ops = append(m.ops, &c)
	}
	return nil
}

func (m *memStore) ListOperations(_ context.Context, logID int64) ([]*BackendOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*BackendOperation
	for _, op := range m.ops {
		if op.LogID == logID {
			c := *op
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) HasPending(_ context.Context, ref InstanceRef, backend string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.ops {
		if op.Instance == ref && op.Backend == backend && m.logs[op.LogID] != nil && m.logs[op.LogID].State.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) LastSuccessfulOperation(_ context.Context, ref InstanceRef, backend, server string) (*BackendOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ops) - 1; i >= 0; i-- {
		op := m.ops[i]
		l := m.logs[op.LogID]
		if op.Instance == ref && op.Backend == backend && op.Server == server && l != nil && l.State == StateSuccess {
			c := *op
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// transportFunc adapts a function to Transport.
type transportFunc func(ctx context.Context, server Server, script string) (*ExecResult, error)

func (f transportFunc) Run(ctx context.Context, server Server, script string) (*ExecResult, error) {
	return f(ctx, server, script)
}

func succeed() Transport {
	return transportFunc(func(context.Context, Server, string) (*ExecResult, error) {
		return &ExecResult{Stdout: "ok\n"}, nil
	})
}
