package stores

import (
	"context"
	"database/sql"

	"github.com/hostpanel/orchestra/pkg/models"
	"github.com/hostpanel/orchestra/pkg/orchestration"
)

// Inventory is the full server and route table as declared in the inventory file.
type Inventory struct {
	Servers []orchestration.Server
	Routes  []orchestration.Route
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Server operations
	UpsertServer(ctx context.Context, server *orchestration.Server) error
	GetServer(ctx context.Context, name string) (*orchestration.Server, error)
	ListServers(ctx context.Context) ([]orchestration.Server, error)
	DeleteServer(ctx context.Context, name string) error

	// Route operations
	CreateRoute(ctx context.Context, route *orchestration.Route) error
	ListRoutes(ctx context.Context, backend string) ([]orchestration.Route, error)
	ListAllRoutes(ctx context.Context) ([]orchestration.Route, error)
	DeleteRoute(ctx context.Context, id int64) error
	SyncInventory(ctx context.Context, inv Inventory) error

	// BackendLog operations
	orchestration.LogStore

	// BackendOperation operations
	orchestration.OperationStore

	// Zone serials
	models.SerialStore

	// Utility
	HealthCheck(ctx context.Context) error
}

var (
	_ Store                        = (*SQLiteStore)(nil)
	_ orchestration.RouteSource    = (*SQLiteStore)(nil)
	_ orchestration.LogStore       = (*SQLiteStore)(nil)
	_ orchestration.OperationStore = (*SQLiteStore)(nil)
	_ models.SerialStore           = (*SQLiteStore)(nil)
)
