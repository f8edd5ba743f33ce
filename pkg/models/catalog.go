// Package models holds the hosting models orchestrated by the backends:
// domains with their records, and websites. Models are immutable snapshots
// loaded from the inventory; zone serials are the only mutable state.
package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

// Spec is the model part of an inventory.
type Spec struct {
	Domains  []DomainSpec  `yaml:"domains,omitempty" json:"domains,omitempty" validate:"dive"`
	Websites []WebsiteSpec `yaml:"websites,omitempty" json:"websites,omitempty" validate:"dive"`
}

// SnapshotOptions configures how specs become models.
type SnapshotOptions struct {
	DefaultProtocol string
	DefaultIPs      []string
}

// Snapshot is an immutable set of model instances.
type Snapshot struct {
	domains  map[string]*Domain
	records  map[string]*Record
	websites map[string]*Website
}

// NewSnapshot builds models from specs. Zone serials are read from and seeded
// into book.
func NewSnapshot(spec Spec, book *SerialBook, opts SnapshotOptions) (*Snapshot, error) {
	if book == nil {
		book = NewSerialBook(nil)
	}
	if opts.DefaultProtocol == "" {
		opts.DefaultProtocol = ProtocolHTTP
	}
	if len(opts.DefaultIPs) == 0 {
		opts.DefaultIPs = []string{"*"}
	}

	s := &Snapshot{
		domains:  make(map[string]*Domain),
		records:  make(map[string]*Record),
		websites: make(map[string]*Website),
	}

	for _, ds := range spec.Domains {
		name := strings.ToLower(strings.TrimSuffix(ds.Name, "."))
		if name == "" {
			return nil, fmt.Errorf("domain name is required")
		}
		if _, ok := s.domains[name]; ok {
			return nil, fmt.Errorf("duplicate domain %s", name)
		}
		d := &Domain{Name: name, serial: book}
		for _, rs := range ds.Records {
			r := Record{Domain: name, Type: strings.ToUpper(rs.Type), Value: rs.Value, TTL: rs.TTL}
			if _, ok := s.records[r.ID()]; ok {
				return nil, fmt.Errorf("duplicate record %s", r.ID())
			}
			rec := r
			s.records[r.ID()] = &rec
			d.Records = append(d.Records, r)
		}
		s.domains[name] = d
		if ds.Serial > 0 {
			book.Seed(name, ds.Serial)
		}
	}

	// Top is the outermost existing parent.
	for _, d := range s.domains {
		for _, parent := range ParentNames(d.Name) {
			if _, ok := s.domains[parent]; ok {
				d.Top = parent
			}
		}
	}

	subdomains := make(map[string][]*Domain)
	for _, d := range s.domains {
		if d.Top != "" {
			subdomains[d.Top] = append(subdomains[d.Top], d)
		}
	}
	for name, d := range s.domains {
		if d.Top != "" {
			continue
		}
		subs := subdomains[name]
		sortSubdomains(subs)
		d.zone = []zoneEntry{{owner: d.Name, records: sortedRecords(d.Records)}}
		for _, sub := range subs {
			if len(sub.Records) > 0 {
				d.zone = append(d.zone, zoneEntry{owner: sub.Name, records: sortedRecords(sub.Records)})
			}
		}
	}

	for _, ws := range spec.Websites {
		if _, ok := s.websites[ws.Name]; ok {
			return nil, fmt.Errorf("duplicate website %s", ws.Name)
		}
		w := newWebsite(ws, opts.DefaultProtocol, opts.DefaultIPs)
		for i, name := range w.Domains {
			w.Domains[i] = strings.ToLower(strings.TrimSuffix(name, "."))
		}
		s.websites[ws.Name] = w
	}

	return s, nil
}

// Wildcard subdomains go last, longest first.
func sortSubdomains(subs []*Domain) {
	sort.Slice(subs, func(i, j int) bool {
		wi, wj := strings.HasPrefix(subs[i].Name, "*"), strings.HasPrefix(subs[j].Name, "*")
		if wi != wj {
			return !wi
		}
		if wi && len(subs[i].Name) != len(subs[j].Name) {
			return len(subs[i].Name) > len(subs[j].Name)
		}
		return subs[i].Name < subs[j].Name
	})
}

// Domain returns a domain by name.
func (s *Snapshot) Domain(name string) (*Domain, bool) {
	d, ok := s.domains[name]
	return d, ok
}

// Website returns a website by name.
func (s *Snapshot) Website(name string) (*Website, bool) {
	w, ok := s.websites[name]
	return w, ok
}

// Domains returns every domain, top domains first, each group sorted by name.
func (s *Snapshot) Domains() []*Domain {
	out := make([]*Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsTop() != out[j].IsTop() {
			return out[i].IsTop()
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Subdomains returns the subdomains of a top domain.
func (s *Snapshot) Subdomains(top string) []*Domain {
	var out []*Domain
	for _, d := range s.domains {
		if d.Top == top {
			out = append(out, d)
		}
	}
	sortSubdomains(out)
	return out
}

// Websites returns every website sorted by name.
func (s *Snapshot) Websites() []*Website {
	out := make([]*Website, 0, len(s.websites))
	for _, w := range s.websites {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Instances returns every instance: domains, then records, then websites.
func (s *Snapshot) Instances() []orchestration.Instance {
	var out []orchestration.Instance
	for _, d := range s.Domains() {
		out = append(out, d)
	}
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, s.records[id])
	}
	for _, w := range s.Websites() {
		out = append(out, w)
	}
	return out
}

// Get returns an instance by reference.
func (s *Snapshot) Get(ref orchestration.InstanceRef) (orchestration.Instance, bool) {
	switch ref.Type {
	case KindDomain:
		d, ok := s.domains[ref.ID]
		return d, ok
	case KindRecord:
		r, ok := s.records[ref.ID]
		return r, ok
	case KindWebsite:
		w, ok := s.websites[ref.ID]
		return w, ok
	}
	return nil, false
}

// Diff returns the changes turning old into new: saves for added or modified
// instances in new's order, then deletes for removed instances in old's order.
// A nil old yields a save for every instance of new.
func Diff(old, new *Snapshot) []orchestration.Change {
	var changes []orchestration.Change
	for _, inst := range new.Instances() {
		if old != nil {
			prev, ok := old.Get(orchestration.RefOf(inst))
			if ok && orchestration.Fingerprint(prev, nil) == orchestration.Fingerprint(inst, nil) {
				continue
			}
		}
		changes = append(changes, orchestration.Change{Instance: inst, Action: orchestration.ActionSave})
	}
	if old == nil {
		return changes
	}
	for _, inst := range old.Instances() {
		if _, ok := new.Get(orchestration.RefOf(inst)); !ok {
			changes = append(changes, orchestration.Change{Instance: inst, Action: orchestration.ActionDelete})
		}
	}
	return changes
}

// Catalog holds the current snapshot and resolves references and relations
// against it.
type Catalog struct {
	mu      sync.RWMutex
	current *Snapshot
	serials *SerialBook
	opts    SnapshotOptions
}

// NewCatalog creates an empty catalog.
func NewCatalog(serials *SerialBook, opts SnapshotOptions) *Catalog {
	if serials == nil {
		serials = NewSerialBook(nil)
	}
	empty, _ := NewSnapshot(Spec{}, serials, opts)
	return &Catalog{current: empty, serials: serials, opts: opts}
}

// Serials returns the serial book.
func (c *Catalog) Serials() *SerialBook {
	return c.serials
}

// Snapshot returns the current snapshot.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Load replaces the current snapshot with one built from spec and returns the
// changes between them.
func (c *Catalog) Load(spec Spec) ([]orchestration.Change, error) {
	next, err := NewSnapshot(spec, c.serials, c.opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	prev := c.current
	c.current = next
	c.mu.Unlock()
	return Diff(prev, next), nil
}

// Register installs resolvers for every model kind.
func (c *Catalog) Register(table *orchestration.ResolverTable) {
	for _, kind := range []string{KindDomain, KindRecord, KindWebsite} {
		table.Register(kind, c.resolver(kind))
	}
}

func (c *Catalog) resolver(kind string) orchestration.Resolver {
	return func(_ context.Context, id string) (orchestration.Instance, error) {
		ref := orchestration.InstanceRef{Type: kind, ID: id}
		inst, ok := c.Snapshot().Get(ref)
		if !ok {
			return nil, fmt.Errorf("%s: %w", ref, orchestration.ErrNotFound)
		}
		return inst, nil
	}
}

// Get resolves a reference against the current snapshot.
func (c *Catalog) Get(ref orchestration.InstanceRef) (orchestration.Instance, error) {
	inst, ok := c.Snapshot().Get(ref)
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, orchestration.ErrNotFound)
	}
	return inst, nil
}

// RecordOrigin resolves a record to the current top domain of its zone.
func (c *Catalog) RecordOrigin(_ context.Context, inst orchestration.Instance) ([]orchestration.Instance, error) {
	r, ok := inst.(*Record)
	if !ok {
		return nil, fmt.Errorf("expected %s, got %s", KindRecord, inst.Kind())
	}
	return c.origin(r.Domain), nil
}

// DomainOrigin resolves a domain to the current top domain of its zone.
func (c *Catalog) DomainOrigin(_ context.Context, inst orchestration.Instance) ([]orchestration.Instance, error) {
	d, ok := inst.(*Domain)
	if !ok {
		return nil, fmt.Errorf("expected %s, got %s", KindDomain, inst.Kind())
	}
	if d.Top != "" {
		return c.origin(d.Top), nil
	}
	return c.origin(d.Name), nil
}

func (c *Catalog) origin(name string) []orchestration.Instance {
	snap := c.Snapshot()
	d, ok := snap.Domain(name)
	if !ok {
		// The domain is gone; its zone may still exist under a surviving parent.
		for _, parent := range ParentNames(name) {
			if p, ok := snap.Domain(parent); ok && p.IsTop() {
				d = p
			}
		}
		if d == nil {
			return nil
		}
	}
	if d.Top != "" {
		d, ok = snap.Domain(d.Top)
		if !ok {
			return nil
		}
	}
	return []orchestration.Instance{d}
}

// WebsitesOfDomain resolves a domain to the websites served for it.
func (c *Catalog) WebsitesOfDomain(_ context.Context, inst orchestration.Instance) ([]orchestration.Instance, error) {
	d, ok := inst.(*Domain)
	if !ok {
		return nil, fmt.Errorf("expected %s, got %s", KindDomain, inst.Kind())
	}
	var out []orchestration.Instance
	for _, w := range c.Snapshot().Websites() {
		if w.HasDomain(d.Name) {
			out = append(out, w)
		}
	}
	return out, nil
}
