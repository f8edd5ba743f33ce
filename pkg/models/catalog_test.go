package models

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hostpanel/orchestra/pkg/orchestration"
)

func testSpec() Spec {
	return Spec{
		Domains: []DomainSpec{
			{Name: "example.com", Records: []RecordSpec{
				{Type: "A", Value: "192.0.2.10"},
				{Type: "MX", Value: "10 mx.example.com."},
			}},
			{Name: "www.example.com", Records: []RecordSpec{{Type: "CNAME", Value: "example.com."}}},
			{Name: "*.example.com", Records: []RecordSpec{{Type: "A", Value: "192.0.2.10"}}},
			{Name: "a.b.example.com", Records: []RecordSpec{{Type: "AAAA", Value: "2001:db8::1"}}},
			{Name: "example.org"},
		},
		Websites: []WebsiteSpec{
			{Name: "blog", Account: "alice", Domains: []string{"www.example.com", "example.com"}},
			{Name: "shop", Account: "bob", Protocol: ProtocolHTTPS, Domains: []string{"example.org"}, IPs: []string{"192.0.2.20"}},
		},
	}
}

func newTestSnapshot(t *testing.T, spec Spec) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(spec, NewSerialBook(nil), SnapshotOptions{})
	if err != nil {
		t.Fatalf("failed to build snapshot: %v", err)
	}
	return s
}

func TestSnapshotTopDomains(t *testing.T) {
	s := newTestSnapshot(t, testSpec())

	tests := []struct {
		name string
		top  string
	}{
		{"example.com", ""},
		{"www.example.com", "example.com"},
		{"*.example.com", "example.com"},
		{"a.b.example.com", "example.com"},
		{"example.org", ""},
	}
	for _, tt := range tests {
		d, ok := s.Domain(tt.name)
		if !ok {
			t.Fatalf("domain %s not found", tt.name)
		}
		if d.Top != tt.top {
			t.Errorf("%s: expected top %q, got %q", tt.name, tt.top, d.Top)
		}
	}

	var names []string
	for _, d := range s.Subdomains("example.com") {
		names = append(names, d.Name)
	}
	want := []string{"a.b.example.com", "www.example.com", "*.example.com"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("subdomain order mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotDuplicates(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"domain", Spec{Domains: []DomainSpec{{Name: "example.com"}, {Name: "Example.com."}}}},
		{"record", Spec{Domains: []DomainSpec{{Name: "example.com", Records: []RecordSpec{
			{Type: "A", Value: "192.0.2.1"}, {Type: "a", Value: "192.0.2.1"},
		}}}}},
		{"website", Spec{Websites: []WebsiteSpec{
			{Name: "w", Account: "a", Domains: []string{"x.com"}},
			{Name: "w", Account: "a", Domains: []string{"y.com"}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSnapshot(tt.spec, nil, SnapshotOptions{}); err == nil {
				t.Error("expected duplicate error")
			}
		})
	}
}

func TestRenderZone(t *testing.T) {
	book := NewSerialBook(nil)
	book.Seed("example.com", 2026031402)
	s, err := NewSnapshot(testSpec(), book, SnapshotOptions{})
	if err != nil {
		t.Fatalf("failed to build snapshot: %v", err)
	}
	d, _ := s.Domain("example.com")

	zone, err := d.RenderZone(DefaultZoneDefaults())
	if err != nil {
		t.Fatalf("failed to render zone: %v", err)
	}
	lines := strings.Split(zone, "\n")

	if !strings.Contains(lines[0], "IN SOA") ||
		!strings.Contains(lines[0], "ns1.example.com. hostmaster.example.com. 2026031402 1d 2h 4w 1h") {
		t.Errorf("unexpected SOA line: %q", lines[0])
	}
	for _, want := range []string{
		"IN A       192.0.2.10",
		"IN NS      ns1.example.com.",
		"a.b.example.com.",
		"www.example.com.",
		"*.example.com.",
	} {
		if !strings.Contains(zone, want) {
			t.Errorf("zone missing %q:\n%s", want, zone)
		}
	}
	// The domain declares an MX, so the default one is not added.
	if strings.Contains(zone, "mail.example.com") {
		t.Errorf("default MX should not be rendered:\n%s", zone)
	}
	if strings.Index(zone, "www.example.com.") > strings.Index(zone, "*.example.com.") {
		t.Error("wildcard subdomains must come last")
	}

	sub, _ := s.Domain("www.example.com")
	if _, err := sub.RenderZone(DefaultZoneDefaults()); err == nil {
		t.Error("expected error rendering a subdomain zone")
	}
}

func TestDomainSerialSharedAcrossSnapshots(t *testing.T) {
	book := NewSerialBook(nil)
	first, _ := NewSnapshot(testSpec(), book, SnapshotOptions{})
	second, _ := NewSnapshot(testSpec(), book, SnapshotOptions{})

	d1, _ := first.Domain("example.com")
	sub, _ := second.Domain("www.example.com")
	d2, _ := second.Domain("example.com")

	if err := sub.RefreshSerial(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	if d1.Serial() != 2026031400 || d2.Serial() != 2026031400 {
		t.Errorf("expected shared zone serial, got %d and %d", d1.Serial(), d2.Serial())
	}
}

func TestWebsiteDefaults(t *testing.T) {
	s := newTestSnapshot(t, testSpec())

	blog, ok := s.Website("blog")
	if !ok {
		t.Fatal("website blog not found")
	}
	if blog.Protocol != ProtocolHTTP {
		t.Errorf("expected default protocol, got %s", blog.Protocol)
	}
	if diff := cmp.Diff([]string{"*"}, blog.IPs); diff != "" {
		t.Errorf("ips mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"example.com", "www.example.com"}, blog.Domains); diff != "" {
		t.Errorf("domains mismatch (-want +got):\n%s", diff)
	}
	if blog.UniqueName() != "alice-blog" {
		t.Errorf("unexpected unique name %s", blog.UniqueName())
	}

	shop, _ := s.Website("shop")
	if shop.ServesHTTP() || !shop.ServesHTTPS() {
		t.Errorf("https site should only serve TLS")
	}
}

func changeRefs(changes []orchestration.Change) []string {
	var out []string
	for _, c := range changes {
		out = append(out, string(c.Action)+" "+orchestration.RefOf(c.Instance).String())
	}
	return out
}

func TestDiff(t *testing.T) {
	old := newTestSnapshot(t, testSpec())

	spec := testSpec()
	spec.Domains[1].Records[0].Value = "blog.example.net."
	spec.Domains = spec.Domains[:4]
	spec.Websites[1].Disabled = true
	next := newTestSnapshot(t, spec)

	got := changeRefs(Diff(old, next))
	want := []string{
		"save domains.Domain:example.com",
		"save domains.Domain:www.example.com",
		"save domains.Record:www.example.com/CNAME/blog.example.net.",
		"save websites.Website:shop",
		"delete domains.Domain:example.org",
		"delete domains.Record:www.example.com/CNAME/example.com.",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diff mismatch (-want +got):\n%s", diff)
	}

	if changes := Diff(next, next); len(changes) != 0 {
		t.Errorf("expected no changes, got %v", changeRefs(changes))
	}
	if changes := Diff(nil, next); len(changes) != len(next.Instances()) {
		t.Errorf("expected a save per instance, got %d", len(changes))
	}
}

func TestCatalogResolvers(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(nil, SnapshotOptions{})
	if _, err := catalog.Load(testSpec()); err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	table := orchestration.NewResolverTable()
	catalog.Register(table)

	inst, err := table.Resolve(ctx, orchestration.InstanceRef{Type: KindRecord, ID: "a.b.example.com/AAAA/2001:db8::1"})
	if err != nil {
		t.Fatalf("failed to resolve record: %v", err)
	}
	origin, err := catalog.RecordOrigin(ctx, inst)
	if err != nil || len(origin) != 1 || origin[0].ID() != "example.com" {
		t.Fatalf("unexpected record origin %v: %v", origin, err)
	}

	_, err = table.Resolve(ctx, orchestration.InstanceRef{Type: KindDomain, ID: "missing.com"})
	if !errors.Is(err, orchestration.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	www, _ := catalog.Get(orchestration.InstanceRef{Type: KindDomain, ID: "www.example.com"})
	origin, _ = catalog.DomainOrigin(ctx, www)
	if len(origin) != 1 || origin[0].ID() != "example.com" {
		t.Errorf("unexpected domain origin %v", origin)
	}

	sites, _ := catalog.WebsitesOfDomain(ctx, www)
	if len(sites) != 1 || sites[0].ID() != "blog" {
		t.Errorf("unexpected websites %v", sites)
	}

	// A deleted subdomain still resolves to its surviving zone.
	spec := testSpec()
	spec.Domains = append(spec.Domains[:1], spec.Domains[2:]...)
	changes, err := catalog.Load(spec)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if len(changes) == 0 {
		t.Fatal("expected changes after reload")
	}
	origin, _ = catalog.DomainOrigin(ctx, www)
	if len(origin) != 1 || origin[0].ID() != "example.com" {
		t.Errorf("unexpected origin of deleted subdomain %v", origin)
	}

	if _, err := catalog.RecordOrigin(ctx, www); err == nil {
		t.Error("expected kind mismatch error")
	}
}
