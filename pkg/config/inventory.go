package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hostpanel/orchestra/pkg/models"
	"github.com/hostpanel/orchestra/pkg/orchestration"
	"github.com/hostpanel/orchestra/pkg/stores"
)

// RouteSpec is a route as declared in the inventory.
type RouteSpec struct {
	Backend string `yaml:"backend" validate:"required"`
	Host    string `yaml:"host" validate:"required"`

	// Match defaults to the backend's default route match.
	Match    string `yaml:"match,omitempty"`
	Position int    `yaml:"position,omitempty" validate:"gte=0"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Inventory is the declared state: servers, routes and the hosting models.
type Inventory struct {
	Servers []orchestration.Server `yaml:"servers,omitempty" validate:"dive"`
	Routes  []RouteSpec            `yaml:"routes,omitempty" validate:"dive"`

	models.Spec `yaml:",inline"`
}

// LoadInventory reads and validates the inventory file at path.
func LoadInventory(path string, schemas *SchemaRegistry) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	inv, err := ParseInventory(data, schemas)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inv, nil
}

// ParseInventory decodes a YAML inventory. The document is checked against the
// #Inventory CUE schema, then decoded strictly and checked with validation tags
// and cross references.
func ParseInventory(data []byte, schemas *SchemaRegistry) (*Inventory, error) {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	if raw == nil {
		return &Inventory{}, nil
	}
	if err := schemas.Validate(SchemaInventory, raw); err != nil {
		return nil, fmt.Errorf("inventory schema: %w", err)
	}

	var inv Inventory
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&inv); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode inventory: %w", err)
	}

	if err := validator.New().Struct(&inv); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}
	if err := inv.check(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (inv *Inventory) check() error {
	servers := make(map[string]bool, len(inv.Servers))
	var errs []error
	for _, s := range inv.Servers {
		if servers[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate server %s", s.Name))
		}
		servers[s.Name] = true
	}
	for i, r := range inv.Routes {
		if !servers[r.Host] {
			errs = append(errs, fmt.Errorf("route %d (%s): unknown server %s", i, r.Backend, r.Host))
		}
		if err := orchestration.CheckMatch(r.Match); err != nil {
			errs = append(errs, fmt.Errorf("route %d (%s): %w", i, r.Backend, err))
		}
	}
	return errors.Join(errs...)
}

// Server returns the declared server named name.
func (inv *Inventory) Server(name string) (orchestration.Server, bool) {
	for _, s := range inv.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return orchestration.Server{}, false
}

// RouteTable returns the routes in declaration order. An empty match takes the
// default route match of its backend; routes of unknown backends are kept so
// they can be listed as unavailable.
func (inv *Inventory) RouteTable(registry *orchestration.Registry) []orchestration.Route {
	routes := make([]orchestration.Route, 0, len(inv.Routes))
	for _, r := range inv.Routes {
		match := r.Match
		if match == "" && registry != nil {
			if b, ok := registry.Get(r.Backend); ok {
				match = b.DefaultRouteMatch
			}
		}
		routes = append(routes, orchestration.Route{
			Backend:  r.Backend,
			Host:     r.Host,
			Match:    match,
			IsActive: !r.Disabled,
			Position: r.Position,
		})
	}
	return routes
}

// StoreInventory returns the server and route table to sync into the store.
func (inv *Inventory) StoreInventory(registry *orchestration.Registry) stores.Inventory {
	servers := make([]orchestration.Server, len(inv.Servers))
	copy(servers, inv.Servers)
	return stores.Inventory{Servers: servers, Routes: inv.RouteTable(registry)}
}
