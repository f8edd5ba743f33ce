package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func intPtr(v int) *int { return &v }

func createLog(t *testing.T, store *SQLiteStore, backend, server, taskID string) *orchestration.BackendLog {
	t.Helper()
	l := &orchestration.BackendLog{
		Backend: backend,
		Server:  server,
		State:   orchestration.StateReceived,
		Script:  "#!/usr/bin/env bash\nexit 0\n",
		TaskID:  taskID,
	}
	if err := store.CreateLog(context.Background(), l); err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	return l
}

func finish(t *testing.T, store *SQLiteStore, id int64, state orchestration.State) {
	t.Helper()
	ctx := context.Background()
	if ok, err := store.TransitionLog(ctx, id, []orchestration.State{orchestration.StateReceived},
		orchestration.LogUpdate{State: orchestration.StateStarted}); err != nil || !ok {
		t.Fatalf("failed to start log %d: ok=%v err=%v", id, ok, err)
	}
	update := orchestration.LogUpdate{State: state}
	if state.HasExitCode() {
		update.ExitCode = intPtr(0)
	}
	if ok, err := store.TransitionLog(ctx, id, []orchestration.State{orchestration.StateStarted}, update); err != nil || !ok {
		t.Fatalf("failed to finish log %d: ok=%v err=%v", id, ok, err)
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"servers", "routes", "backend_logs", "backend_operations", "domain_serials"}
	for _, table := range tables {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestServerCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	server := &orchestration.Server{Name: "ns1", Address: "10.0.0.1"}
	if err := store.UpsertServer(ctx, server); err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if server.ID == 0 {
		t.Fatal("expected server ID to be set")
	}

	got, err := store.GetServer(ctx, "ns1")
	if err != nil {
		t.Fatalf("failed to get server: %v", err)
	}
	if got.Address != "10.0.0.1" || got.OS != "linux" {
		t.Errorf("unexpected server: %+v", got)
	}

	// Upsert by name keeps the ID.
	update := &orchestration.Server{Name: "ns1", Address: "10.0.0.9", OS: "bsd"}
	if err := store.UpsertServer(ctx, update); err != nil {
		t.Fatalf("failed to update server: %v", err)
	}
	if update.ID != server.ID {
		t.Errorf("expected ID %d after upsert, got %d", server.ID, update.ID)
	}

	servers, err := store.ListServers(ctx)
	if err != nil {
		t.Fatalf("failed to list servers: %v", err)
	}
	if len(servers) != 1 || servers[0].Address != "10.0.0.9" {
		t.Errorf("unexpected servers: %+v", servers)
	}

	if err := store.DeleteServer(ctx, "ns1"); err != nil {
		t.Fatalf("failed to delete server: %v", err)
	}
	if _, err := store.GetServer(ctx, "ns1"); !errors.Is(err, orchestration.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteServer(ctx, "ns1"); !errors.Is(err, orchestration.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestRouteOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"web1", "web2", "web3"} {
		if err := store.UpsertServer(ctx, &orchestration.Server{Name: name}); err != nil {
			t.Fatalf("failed to create server: %v", err)
		}
	}

	routes := []*orchestration.Route{
		{Backend: "apache2", Host: "web3", Match: "True", IsActive: true, Position: 1},
		{Backend: "apache2", Host: "web1", Match: "True", IsActive: true, Position: 0},
		{Backend: "apache2", Host: "web2", Match: "False", IsActive: false, Position: 1},
		{Backend: "dns-master", Host: "web1", Match: "True", IsActive: true},
	}
	for _, r := range routes {
		if err := store.CreateRoute(ctx, r); err != nil {
			t.Fatalf("failed to create route: %v", err)
		}
	}

	got, err := store.ListRoutes(ctx, "apache2")
	if err != nil {
		t.Fatalf("failed to list routes: %v", err)
	}
	var hosts []string
	for _, r := range got {
		hosts = append(hosts, r.Host)
	}
	if diff := cmp.Diff([]string{"web1", "web3", "web2"}, hosts); diff != "" {
		t.Errorf("route order mismatch (-want +got):\n%s", diff)
	}
	if got[2].IsActive {
		t.Error("expected third route to be inactive")
	}

	all, err := store.ListAllRoutes(ctx)
	if err != nil {
		t.Fatalf("failed to list all routes: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 routes, got %d", len(all))
	}

	err = store.CreateRoute(ctx, &orchestration.Route{Backend: "apache2", Host: "missing", Match: "True"})
	if !errors.Is(err, orchestration.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown host, got %v", err)
	}

	if err := store.DeleteRoute(ctx, got[0].ID); err != nil {
		t.Fatalf("failed to delete route: %v", err)
	}
	got, _ = store.ListRoutes(ctx, "apache2")
	if len(got) != 2 {
		t.Errorf("expected 2 routes after delete, got %d", len(got))
	}
}

func TestSyncInventory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := Inventory{
		Servers: []orchestration.Server{{Name: "ns1"}, {Name: "ns2"}},
		Routes: []orchestration.Route{
			{Backend: "dns-master", Host: "ns1", Match: "True", IsActive: true},
			{Backend: "dns-slave", Host: "ns2", Match: "True", IsActive: true},
		},
	}
	if err := store.SyncInventory(ctx, first); err != nil {
		t.Fatalf("failed to sync inventory: %v", err)
	}

	second := Inventory{
		Servers: []orchestration.Server{{Name: "ns1", Address: "192.0.2.1"}},
		Routes: []orchestration.Route{
			{Backend: "dns-master", Host: "ns1", Match: "'.' in origin", IsActive: true},
		},
	}
	if err := store.SyncInventory(ctx, second); err != nil {
		t.Fatalf("failed to sync inventory: %v", err)
	}

	if _, err := store.GetServer(ctx, "ns2"); !errors.Is(err, orchestration.ErrNotFound) {
		t.Errorf("expected ns2 to be removed, got %v", err)
	}
	slaves, _ := store.ListRoutes(ctx, "dns-slave")
	if len(slaves) != 0 {
		t.Errorf("expected slave routes to be removed, got %d", len(slaves))
	}
	masters, _ := store.ListRoutes(ctx, "dns-master")
	if len(masters) != 1 || masters[0].Match != "'.' in origin" {
		t.Errorf("unexpected master routes: %+v", masters)
	}

	// A route to an unknown host rolls the whole sync back.
	bad := Inventory{
		Servers: []orchestration.Server{{Name: "ns3"}},
		Routes:  []orchestration.Route{{Backend: "dns-master", Host: "ns1", Match: "True"}},
	}
	if err := store.SyncInventory(ctx, bad); err == nil {
		t.Fatal("expected sync with unknown route host to fail")
	}
	if _, err := store.GetServer(ctx, "ns1"); err != nil {
		t.Errorf("expected ns1 to survive a failed sync: %v", err)
	}
}

func TestBackendLogCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	l := createLog(t, store, "dns-master", "ns1", "task-1")
	if l.ID == 0 || l.CreatedAt.IsZero() {
		t.Fatalf("expected ID and CreatedAt to be set: %+v", l)
	}

	got, err := store.GetLog(ctx, l.ID)
	if err != nil {
		t.Fatalf("failed to get log: %v", err)
	}
	if got.State != orchestration.StateReceived || got.ExitCode != nil || got.TaskID != "task-1" {
		t.Errorf("unexpected log: %+v", got)
	}
	if got.Script != l.Script {
		t.Errorf("script mismatch: %q", got.Script)
	}

	if _, err := store.GetLog(ctx, 999); !errors.Is(err, orchestration.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	dup := &orchestration.BackendLog{Backend: "dns-master", Server: "ns1", State: orchestration.StateReceived, TaskID: "task-1"}
	if err := store.CreateLog(ctx, dup); err == nil {
		t.Error("expected duplicate task id to fail")
	}

	invalid := &orchestration.BackendLog{Backend: "dns-master", Server: "ns1", State: "BOGUS", TaskID: "task-x"}
	if err := store.CreateLog(ctx, invalid); err == nil {
		t.Error("expected invalid state to fail")
	}
}

func TestListLogsFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := createLog(t, store, "dns-master", "ns1", "task-a")
	b := createLog(t, store, "dns-slave", "ns2", "task-b")
	c := createLog(t, store, "dns-master", "ns1", "task-c")
	finish(t, store, a.ID, orchestration.StateSuccess)
	finish(t, store, b.ID, orchestration.StateFailure)

	tests := []struct {
		name   string
		filter orchestration.LogFilter
		want   []int64
	}{
		{"all newest first", orchestration.LogFilter{}, []int64{c.ID, b.ID, a.ID}},
		{"by state", orchestration.LogFilter{State: orchestration.StateFailure}, []int64{b.ID}},
		{"by backend", orchestration.LogFilter{Backend: "dns-master"}, []int64{c.ID, a.ID}},
		{"by server", orchestration.LogFilter{Server: "ns2"}, []int64{b.ID}},
		{"limit", orchestration.LogFilter{Limit: 1}, []int64{c.ID}},
		{"combined", orchestration.LogFilter{Backend: "dns-master", State: orchestration.StateReceived}, []int64{c.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, err := store.ListLogs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to list logs: %v", err)
			}
			var ids []int64
			for _, l := range logs {
				ids = append(ids, l.ID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}

	last, err := store.LastLog(ctx, "dns-master", "ns1")
	if err != nil {
		t.Fatalf("failed to get last log: %v", err)
	}
	if last.ID != c.ID {
		t.Errorf("expected last log %d, got %d", c.ID, last.ID)
	}
	if _, err := store.LastLog(ctx, "apache2", "web1"); !errors.Is(err, orchestration.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	l := createLog(t, store, "dns-master", "ns1", "task-1")

	ok, err := store.TransitionLog(ctx, l.ID, []orchestration.State{orchestration.StateReceived},
		orchestration.LogUpdate{State: orchestration.StateStarted})
	if err != nil || !ok {
		t.Fatalf("expected RECEIVED -> STARTED to apply: ok=%v err=%v", ok, err)
	}

	// Revoke loses against a started log.
	ok, err = store.TransitionLog(ctx, l.ID, []orchestration.State{orchestration.StateReceived},
		orchestration.LogUpdate{State: orchestration.StateRevoked})
	if err != nil || ok {
		t.Fatalf("expected revoke of a started log to be refused: ok=%v err=%v", ok, err)
	}

	ok, err = store.TransitionLog(ctx, l.ID, []orchestration.State{orchestration.StateStarted}, orchestration.LogUpdate{
		State:         orchestration.StateFailure,
		Stdout:        "out",
		Stderr:        "err",
		ExitCode:      intPtr(2),
		ExecutionTime: 1500 * time.Millisecond,
	})
	if err != nil || !ok {
		t.Fatalf("expected STARTED -> FAILURE to apply: ok=%v err=%v", ok, err)
	}

	got, _ := store.GetLog(ctx, l.ID)
	if got.State != orchestration.StateFailure || got.ExitCode == nil || *got.ExitCode != 2 {
		t.Errorf("unexpected log after failure: %+v", got)
	}
	if got.Stdout != "out" || got.Stderr != "err" || got.ExecutionTime != 1500*time.Millisecond {
		t.Errorf("output not stored: %+v", got)
	}

	// Terminal states are final.
	_, err = store.TransitionLog(ctx, l.ID, []orchestration.State{orchestration.StateFailure},
		orchestration.LogUpdate{State: orchestration.StateSuccess})
	if !orchestration.IsValidation(err) {
		t.Errorf("expected validation error leaving a terminal state, got %v", err)
	}
}

func TestTransitionTimeoutHasNoExitCode(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	l := createLog(t, store, "dns-master", "ns1", "task-1")
	_, _ = store.TransitionLog(ctx, l.ID, []orchestration.State{orchestration.StateReceived},
		orchestration.LogUpdate{State: orchestration.StateStarted})

	ok, err := store.TransitionLog(ctx, l.ID, []orchestration.State{orchestration.StateStarted}, orchestration.LogUpdate{
		State:     orchestration.StateTimeout,
		Stdout:    "partial",
		Traceback: "timed out",
		ExitCode:  intPtr(-1),
	})
	if err != nil || !ok {
		t.Fatalf("expected STARTED -> TIMEOUT to apply: ok=%v err=%v", ok, err)
	}

	got, _ := store.GetLog(ctx, l.ID)
	if got.ExitCode != nil {
		t.Errorf("expected nil exit code for TIMEOUT, got %d", *got.ExitCode)
	}
	if got.Stdout != "partial" || got.Traceback != "timed out" {
		t.Errorf("unexpected timeout log: %+v", got)
	}
}

func TestOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ref := orchestration.InstanceRef{Type: "domains.Domain", ID: "1"}
	l := createLog(t, store, "dns-master", "ns1", "task-1")

	ops := []*orchestration.BackendOperation{
		{LogID: l.ID, Backend: "dns-master", Server: "ns1", Action: orchestration.ActionSave, Instance: ref, Fingerprint: "abc"},
		{LogID: l.ID, Backend: "dns-master", Server: "ns1", Action: orchestration.ActionDelete, Instance: orchestration.InstanceRef{Type: "domains.Domain", ID: "2"}},
	}
	if err := store.CreateOperations(ctx, ops); err != nil {
		t.Fatalf("failed to create operations: %v", err)
	}
	if ops[0].ID == 0 || ops[1].ID == 0 {
		t.Fatal("expected operation IDs to be set")
	}

	got, err := store.ListOperations(ctx, l.ID)
	if err != nil {
		t.Fatalf("failed to list operations: %v", err)
	}
	if len(got) != 2 || got[0].Instance != ref || got[0].Fingerprint != "abc" || got[1].Action != orchestration.ActionDelete {
		t.Errorf("unexpected operations: %+v %+v", got[0], got[1])
	}

	pending, err := store.HasPending(ctx, ref, "dns-master")
	if err != nil || !pending {
		t.Errorf("expected pending operation: pending=%v err=%v", pending, err)
	}
	pending, _ = store.HasPending(ctx, ref, "dns-slave")
	if pending {
		t.Error("expected no pending operation for another backend")
	}

	if _, err := store.LastSuccessfulOperation(ctx, ref, "dns-master", "ns1"); !errors.Is(err, orchestration.ErrNotFound) {
		t.Errorf("expected ErrNotFound before success, got %v", err)
	}

	finish(t, store, l.ID, orchestration.StateSuccess)

	pending, _ = store.HasPending(ctx, ref, "dns-master")
	if pending {
		t.Error("expected no pending operation after success")
	}
	last, err := store.LastSuccessfulOperation(ctx, ref, "dns-master", "ns1")
	if err != nil {
		t.Fatalf("failed to get last successful operation: %v", err)
	}
	if last.ID != ops[0].ID || last.Fingerprint != "abc" {
		t.Errorf("unexpected last successful operation: %+v", last)
	}

	bad := []*orchestration.BackendOperation{{LogID: l.ID, Action: "update", Instance: ref}}
	if err := store.CreateOperations(ctx, bad); err == nil {
		t.Error("expected invalid action to fail")
	}
}

func TestPurgeLogs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := createLog(t, store, "dns-master", "ns1", "task-old")
	active := createLog(t, store, "dns-master", "ns1", "task-active")
	finish(t, store, old.ID, orchestration.StateSuccess)

	ref := orchestration.InstanceRef{Type: "domains.Domain", ID: "1"}
	if err := store.CreateOperations(ctx, []*orchestration.BackendOperation{
		{LogID: old.ID, Backend: "dns-master", Server: "ns1", Action: orchestration.ActionSave, Instance: ref},
	}); err != nil {
		t.Fatalf("failed to create operations: %v", err)
	}

	n, err := store.PurgeLogs(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged log, got %d", n)
	}

	if _, err := store.GetLog(ctx, old.ID); !errors.Is(err, orchestration.ErrNotFound) {
		t.Errorf("expected purged log to be gone, got %v", err)
	}
	if _, err := store.GetLog(ctx, active.ID); err != nil {
		t.Errorf("expected active log to survive: %v", err)
	}
	ops, _ := store.ListOperations(ctx, old.ID)
	if len(ops) != 0 {
		t.Errorf("expected operations to cascade, got %d", len(ops))
	}

	n, _ = store.PurgeLogs(ctx, time.Now().Add(-time.Hour))
	if n != 0 {
		t.Errorf("expected nothing older than an hour ago, got %d", n)
	}
}

func TestTransactions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	if err := store.upsertServer(ctx, tx, &orchestration.Server{Name: "web1"}); err != nil {
		_ = store.RollbackTx(tx)
		t.Fatalf("failed to insert server in transaction: %v", err)
	}
	if err := store.RollbackTx(tx); err != nil {
		t.Fatalf("failed to rollback transaction: %v", err)
	}

	if _, err := store.GetServer(ctx, "web1"); err == nil {
		t.Error("expected error when getting rolled back server")
	}

	tx, err = store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin second transaction: %v", err)
	}
	if err := store.upsertServer(ctx, tx, &orchestration.Server{Name: "web1"}); err != nil {
		_ = store.RollbackTx(tx)
		t.Fatalf("failed to insert server in second transaction: %v", err)
	}
	if err := store.CommitTx(tx); err != nil {
		t.Fatalf("failed to commit transaction: %v", err)
	}

	if _, err := store.GetServer(ctx, "web1"); err != nil {
		t.Fatalf("failed to get committed server: %v", err)
	}
}

func TestDeleteServerCascadesRoutes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.UpsertServer(ctx, &orchestration.Server{Name: "web1"}); err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := store.CreateRoute(ctx, &orchestration.Route{Backend: "apache2", Host: "web1", Match: "True", IsActive: true}); err != nil {
		t.Fatalf("failed to create route: %v", err)
	}
	if err := store.DeleteServer(ctx, "web1"); err != nil {
		t.Fatalf("failed to delete server: %v", err)
	}
	routes, _ := store.ListAllRoutes(ctx)
	if len(routes) != 0 {
		t.Errorf("expected routes to cascade, got %d", len(routes))
	}
}

func TestSerials(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SaveSerial(ctx, "example.com", 2026031400); err != nil {
		t.Fatalf("failed to save serial: %v", err)
	}
	if err := store.SaveSerial(ctx, "example.com", 2026031401); err != nil {
		t.Fatalf("failed to update serial: %v", err)
	}
	// Lower serials are ignored.
	if err := store.SaveSerial(ctx, "example.com", 2025010100); err != nil {
		t.Fatalf("failed to save lower serial: %v", err)
	}
	if err := store.SaveSerial(ctx, "example.org", 7); err != nil {
		t.Fatalf("failed to save serial: %v", err)
	}

	got, err := store.LoadSerials(ctx)
	if err != nil {
		t.Fatalf("failed to load serials: %v", err)
	}
	want := map[string]int{"example.com": 2026031401, "example.org": 7}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("serials mismatch (-want +got):\n%s", diff)
	}
}
