package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/hostpanel/orchestra/pkg/orchestration"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Init opens the database connection with foreign keys and WAL enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertServer creates a server or updates the one with the same name.
func (s *SQLiteStore) UpsertServer(ctx context.Context, server *orchestration.Server) error {
	return s.upsertServer(ctx, s.db, server)
}

func (s *SQLiteStore) upsertServer(ctx context.Context, ex execer, server *orchestration.Server) error {
	if server.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if server.OS == "" {
		server.OS = "linux"
	}
	now := s.now()
	query := `
		INSERT INTO servers (name, address, os, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			address = excluded.address,
			os = excluded.os,
			updated_at = excluded.updated_at
		RETURNING id
	`
	if err := ex.QueryRowContext(ctx, query, server.Name, server.Address, server.OS, now, now).Scan(&server.ID); err != nil {
		return fmt.Errorf("failed to upsert server %s: %w", server.Name, err)
	}
	return nil
}

// GetServer retrieves a server by name
func (s *SQLiteStore) GetServer(ctx context.Context, name string) (*orchestration.Server, error) {
	query := `SELECT id, name, address, os FROM servers WHERE name = ?`

	server := &orchestration.Server{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(&server.ID, &server.Name, &server.Address, &server.OS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %s: %w", name, orchestration.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}

	return server, nil
}

// ListServers lists servers ordered by name
func (s *SQLiteStore) ListServers(ctx context.Context) ([]orchestration.Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, os FROM servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	servers := []orchestration.Server{}
	for rows.Next() {
		var server orchestration.Server
		if err := rows.Scan(&server.ID, &server.Name, &server.Address, &server.OS); err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, server)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating servers: %w", err)
	}

	return servers, nil
}

// DeleteServer deletes a server and its routes
func (s *SQLiteStore) DeleteServer(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	return expectRows(result, fmt.Sprintf("server %s", name))
}

// CreateRoute creates a route. The host must name an existing server.
func (s *SQLiteStore) CreateRoute(ctx context.Context, route *orchestration.Route) error {
	return s.createRoute(ctx, s.db, route)
}

func (s *SQLiteStore) createRoute(ctx context.Context, ex execer, route *orchestration.Route) error {
	query := `
		INSERT INTO routes (backend, host_id, match_expr, is_active, position, created_at)
		SELECT ?, id, ?, ?, ?, ? FROM servers WHERE name = ?
		RETURNING id
	`
	err := ex.QueryRowContext(ctx, query,
		route.Backend,
		route.Match,
		route.IsActive,
		route.Position,
		s.now(),
		route.Host,
	).Scan(&route.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("route host %s: %w", route.Host, orchestration.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to create route %s -> %s: %w", route.Backend, route.Host, err)
	}
	return nil
}

const routeColumns = `r.id, r.backend, s.name, r.match_expr, r.is_active, r.position`

// ListRoutes lists the routes of one backend in evaluation order.
func (s *SQLiteStore) ListRoutes(ctx context.Context, backend string) ([]orchestration.Route, error) {
	query := `
		SELECT ` + routeColumns + `
		FROM routes r
		JOIN servers s ON s.id = r.host_id
		WHERE r.backend = ?
		ORDER BY r.position, r.id
	`
	return s.queryRoutes(ctx, query, backend)
}

// ListAllRoutes lists every route ordered by backend and evaluation order.
func (s *SQLiteStore) ListAllRoutes(ctx context.Context) ([]orchestration.Route, error) {
	query := `
		SELECT ` + routeColumns + `
		FROM routes r
		JOIN servers s ON s.id = r.host_id
		ORDER BY r.backend, r.position, r.id
	`
	return s.queryRoutes(ctx, query)
}

func (s *SQLiteStore) queryRoutes(ctx context.Context, query string, args ...any) ([]orchestration.Route, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	routes := []orchestration.Route{}
	for rows.Next() {
		var r orchestration.Route
		if err := rows.Scan(&r.ID, &r.Backend, &r.Host, &r.Match, &r.IsActive, &r.Position); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routes: %w", err)
	}

	return routes, nil
}

// DeleteRoute deletes a route by ID
func (s *SQLiteStore) DeleteRoute(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM routes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	return expectRows(result, fmt.Sprintf("route %d", id))
}

// SyncInventory replaces servers and routes with the inventory in one
// transaction. Servers missing from the inventory are removed with their routes.
// Logs reference servers by name and are kept.
func (s *SQLiteStore) SyncInventory(ctx context.Context, inv Inventory) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	names := make([]any, 0, len(inv.Servers))
	for i := range inv.Servers {
		if err := s.upsertServer(ctx, tx, &inv.Servers[i]); err != nil {
			return err
		}
		names = append(names, inv.Servers[i].Name)
	}

	stale := `DELETE FROM servers`
	if len(names) > 0 {
		stale += ` WHERE name NOT IN (` + placeholders(len(names)) + `)`
	}
	if _, err := tx.ExecContext(ctx, stale, names...); err != nil {
		return fmt.Errorf("failed to delete stale servers: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM routes`); err != nil {
		return fmt.Errorf("failed to clear routes: %w", err)
	}
	for i := range inv.Routes {
		if err := s.createRoute(ctx, tx, &inv.Routes[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit inventory: %w", err)
	}
	return nil
}

const logColumns = `id, backend, server, state, script, stdout, stderr, traceback, exit_code, task_id, execution_time, created_at, updated_at`

// CreateLog inserts a backend log and sets its ID and timestamps.
func (s *SQLiteStore) CreateLog(ctx context.Context, log *orchestration.BackendLog) error {
	if err := log.State.Validate(); err != nil {
		return err
	}
	now := s.now()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	log.UpdatedAt = now

	query := `
		INSERT INTO backend_logs (backend, server, state, script, stdout, stderr, traceback, exit_code, task_id, execution_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		log.Backend,
		log.Server,
		string(log.State),
		log.Script,
		log.Stdout,
		log.Stderr,
		log.Traceback,
		exitCodeValue(log.ExitCode),
		log.TaskID,
		int64(log.ExecutionTime),
		log.CreatedAt,
		log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create backend log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get backend log id: %w", err)
	}
	log.ID = id
	return nil
}

// GetLog retrieves a backend log by ID
func (s *SQLiteStore) GetLog(ctx context.Context, id int64) (*orchestration.BackendLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM backend_logs WHERE id = ?`, id)
	log, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backend log %d: %w", id, orchestration.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backend log: %w", err)
	}
	return log, nil
}

// ListLogs lists backend logs newest first.
func (s *SQLiteStore) ListLogs(ctx context.Context, filter orchestration.LogFilter) ([]*orchestration.BackendLog, error) {
	var (
		where []string
		args  []any
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Backend != "" {
		where = append(where, "backend = ?")
		args = append(args, filter.Backend)
	}
	if filter.Server != "" {
		where = append(where, "server = ?")
		args = append(args, filter.Server)
	}

	query := `SELECT ` + logColumns + ` FROM backend_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backend logs: %w", err)
	}
	defer rows.Close()

	logs := []*orchestration.BackendLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backend log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backend logs: %w", err)
	}

	return logs, nil
}

// LastLog returns the most recent log of a backend on a server.
func (s *SQLiteStore) LastLog(ctx context.Context, backend, server string) (*orchestration.BackendLog, error) {
	query := `SELECT ` + logColumns + ` FROM backend_logs WHERE backend = ? AND server = ? ORDER BY id DESC LIMIT 1`
	log, err := scanLog(s.db.QueryRowContext(ctx, query, backend, server))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backend log of %s@%s: %w", backend, server, orchestration.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last backend log: %w", err)
	}
	return log, nil
}

// TransitionLog writes the update only if the log is currently in one of the
// from states. It reports whether the row was updated.
func (s *SQLiteStore) TransitionLog(ctx context.Context, id int64, from []orchestration.State, update orchestration.LogUpdate) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("at least one source state is required")
	}
	for _, st := range from {
		if !st.CanTransitionTo(update.State) {
			return false, orchestration.NewValidationError(
				fmt.Sprintf("illegal transition %s -> %s", st, update.State), nil,
			).WithCode(orchestration.ErrCodeInvalidState)
		}
	}

	args := []any{string(update.State), s.now()}
	query := `UPDATE backend_logs SET state = ?, updated_at = ?`
	if update.State != orchestration.StateStarted {
		var exitCode any
		if update.State.HasExitCode() {
			exitCode = exitCodeValue(update.ExitCode)
		}
		query += `, stdout = ?, stderr = ?, traceback = ?, exit_code = ?, execution_time = ?`
		args = append(args, update.Stdout, update.Stderr, update.Traceback, exitCode, int64(update.ExecutionTime))
	}
	query += ` WHERE id = ? AND state IN (` + placeholders(len(from)) + `)`
	args = append(args, id)
	for _, st := range from {
		args = append(args, string(st))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition backend log %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// PurgeLogs deletes terminal logs created before the given time together with
// their operations.
func (s *SQLiteStore) PurgeLogs(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM backend_logs WHERE created_at < ? AND state NOT IN (?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		before.UTC(),
		string(orchestration.StateReceived),
		string(orchestration.StateStarted),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge backend logs: %w", err)
	}
	return result.RowsAffected()
}

// CreateOperations inserts operations in one transaction.
func (s *SQLiteStore) CreateOperations(ctx context.Context, ops []*orchestration.BackendOperation) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO backend_operations (log_id, backend, server, action, instance_type, instance_id, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, op := range ops {
		if err := op.Action.Validate(); err != nil {
			return err
		}
		if op.CreatedAt.IsZero() {
			op.CreatedAt = s.now()
		}
		result, err := tx.ExecContext(ctx, query,
			op.LogID,
			op.Backend,
			op.Server,
			string(op.Action),
			op.Instance.Type,
			op.Instance.ID,
			op.Fingerprint,
			op.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create operation for %s: %w", op.Instance, err)
		}
		if op.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get operation id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit operations: %w", err)
	}
	return nil
}

const operationColumns = `o.id, o.log_id, o.backend, o.server, o.action, o.instance_type, o.instance_id, o.fingerprint, o.created_at`

// ListOperations lists the operations of a log in insertion order.
func (s *SQLiteStore) ListOperations(ctx context.Context, logID int64) ([]*orchestration.BackendOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM backend_operations o WHERE o.log_id = ? ORDER BY o.id`
	rows, err := s.db.QueryContext(ctx, query, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	ops := []*orchestration.BackendOperation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}

// HasPending reports whether a RECEIVED or STARTED log of backend involves ref.
func (s *SQLiteStore) HasPending(ctx context.Context, ref orchestration.InstanceRef, backend string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM backend_operations o
			JOIN backend_logs l ON l.id = o.log_id
			WHERE o.instance_type = ? AND o.instance_id = ? AND o.backend = ?
			AND l.state IN (?, ?)
		)
	`
	var exists bool
	err := s.db.QueryRowContext(ctx, query,
		ref.Type, ref.ID, backend,
		string(orchestration.StateReceived), string(orchestration.StateStarted),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending operations: %w", err)
	}
	return exists, nil
}

// LastSuccessfulOperation returns the latest operation for ref on backend and
// server whose log reached SUCCESS.
func (s *SQLiteStore) LastSuccessfulOperation(ctx context.Context, ref orchestration.InstanceRef, backend, server string) (*orchestration.BackendOperation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM backend_operations o
		JOIN backend_logs l ON l.id = o.log_id
		WHERE o.instance_type = ? AND o.instance_id = ? AND o.backend = ? AND o.server = ?
		AND l.state = ?
		ORDER BY o.id DESC
		LIMIT 1
	`
	op, err := scanOperation(s.db.QueryRowContext(ctx, query,
		ref.Type, ref.ID, backend, server, string(orchestration.StateSuccess),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("successful operation for %s on %s@%s: %w", ref, backend, server, orchestration.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last successful operation: %w", err)
	}
	return op, nil
}

// LoadSerials returns every persisted zone serial.
func (s *SQLiteStore) LoadSerials(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, serial FROM domain_serials`)
	if err != nil {
		return nil, fmt.Errorf("failed to load serials: %w", err)
	}
	defer rows.Close()

	serials := make(map[string]int)
	for rows.Next() {
		var (
			name   string
			serial int
		)
		if err := rows.Scan(&name, &serial); err != nil {
			return nil, fmt.Errorf("failed to scan serial: %w", err)
		}
		serials[name] = serial
	}
	return serials, rows.Err()
}

// SaveSerial stores the serial of a zone. A lower serial never replaces a higher one.
func (s *SQLiteStore) SaveSerial(ctx context.Context, name string, serial int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_serials (name, serial, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET serial = excluded.serial, updated_at = excluded.updated_at
		WHERE excluded.serial > domain_serials.serial`,
		name, serial, s.now())
	if err != nil {
		return fmt.Errorf("failed to save serial of %s: %w", name, err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(row scanner) (*orchestration.BackendLog, error) {
	var (
		log      orchestration.BackendLog
		state    string
		exitCode sql.NullInt64
		execTime int64
	)
	err := row.Scan(
		&log.ID,
		&log.Backend,
		&log.Server,
		&state,
		&log.Script,
		&log.Stdout,
		&log.Stderr,
		&log.Traceback,
		&exitCode,
		&log.TaskID,
		&execTime,
		&log.CreatedAt,
		&log.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	log.State = orchestration.State(state)
	log.ExecutionTime = time.Duration(execTime)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		log.ExitCode = &code
	}
	return &log, nil
}

func scanOperation(row scanner) (*orchestration.BackendOperation, error) {
	var (
		op     orchestration.BackendOperation
		action string
	)
	err := row.Scan(
		&op.ID,
		&op.LogID,
		&op.Backend,
		&op.Server,
		&action,
		&op.Instance.Type,
		&op.Instance.ID,
		&op.Fingerprint,
		&op.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Action = orchestration.Action(action)
	return &op, nil
}

func exitCodeValue(code *int) any {
	if code == nil {
		return nil
	}
	return int64(*code)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func expectRows(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, orchestration.ErrNotFound)
	}
	return nil
}
