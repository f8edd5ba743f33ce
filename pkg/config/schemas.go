package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaInventory is the name of the builtin inventory schema.
const SchemaInventory = "inventory"

// SchemaRegistry manages CUE schemas for validation. Each schema is a CUE
// source whose definition of the same name, e.g. #Inventory, is the entry point.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(SchemaInventory, "#Inventory", builtinInventorySchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate checks data, as decoded from YAML or JSON, against a named schema.
// CUE values share one runtime, so validations are serialized.
func (sr *SchemaRegistry) Validate(schemaName string, data any) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns the registered schema names in order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinInventorySchema = `
#Name: string & =~"^[a-z0-9]([a-z0-9.-]*[a-z0-9])?$"

#Server: {
	name:     #Name
	address?: string & !=""
	os?:      "linux" | "bsd" | "darwin"
}

#Route: {
	backend:   string & !=""
	host:      #Name
	match?:    string
	position?: int & >=0
	disabled?: bool
}

#Record: {
	type:  "A" | "AAAA" | "CNAME" | "MX" | "NS" | "SOA" | "TXT" | "SRV" | "CAA"
	value: string & !=""
	ttl?:  string
}

#Domain: {
	// Wildcard and service labels are allowed.
	name:     string & =~"^[*_A-Za-z0-9]([A-Za-z0-9_.-]*[A-Za-z0-9])?\\.?$"
	serial?:  int & >=0 & <=4294967295
	records?: [...#Record]
}

#Website: {
	name:      string & =~"^[A-Za-z0-9][A-Za-z0-9_.-]*$"
	account:   string & =~"^[a-z_][a-z0-9_-]*$"
	protocol?: "http" | "https" | "http/https" | "https-only"
	domains: [string, ...string]
	ips?: [...string]
	disabled?: bool
}

#Inventory: {
	servers?: [...#Server]
	routes?: [...#Route]
	domains?: [...#Domain]
	websites?: [...#Website]
}
`
