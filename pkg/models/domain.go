package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Model type tags.
const (
	KindDomain  = "domains.Domain"
	KindRecord  = "domains.Record"
	KindWebsite = "websites.Website"
)

// Record types.
const (
	RecordA     = "A"
	RecordAAAA  = "AAAA"
	RecordCNAME = "CNAME"
	RecordMX    = "MX"
	RecordNS    = "NS"
	RecordSOA   = "SOA"
	RecordTXT   = "TXT"
	RecordSRV   = "SRV"
	RecordCAA   = "CAA"
)

// RecordSpec is a DNS record as declared in the inventory.
type RecordSpec struct {
	Type  string `yaml:"type" json:"type" validate:"required,oneof=A AAAA CNAME MX NS SOA TXT SRV CAA"`
	Value string `yaml:"value" json:"value" validate:"required"`
	TTL   string `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// DomainSpec is a domain as declared in the inventory.
type DomainSpec struct {
	Name    string       `yaml:"name" json:"name" validate:"required,max=253"`
	Serial  int          `yaml:"serial,omitempty" json:"serial,omitempty" validate:"gte=0"`
	Records []RecordSpec `yaml:"records,omitempty" json:"records,omitempty" validate:"dive"`
}

// Record is one DNS record of a domain.
type Record struct {
	Domain string
	Type   string
	Value  string
	TTL    string
}

// Kind implements orchestration.Instance.
func (r *Record) Kind() string { return KindRecord }

// ID implements orchestration.Instance.
func (r *Record) ID() string { return r.Domain + "/" + r.Type + "/" + r.Value }

// String implements orchestration.Instance.
func (r *Record) String() string { return r.Domain + " " + r.Type + " " + r.Value }

// Attrs implements orchestration.Instance.
func (r *Record) Attrs() map[string]any {
	return map[string]any{
		"domain": r.Domain,
		"type":   r.Type,
		"value":  r.Value,
		"ttl":    r.TTL,
	}
}

// ZoneDefaults are the values used for records a top domain does not declare.
type ZoneDefaults struct {
	TTL        string   `mapstructure:"ttl" validate:"required"`
	NameServer string   `mapstructure:"name_server" validate:"required"`
	Hostmaster string   `mapstructure:"hostmaster" validate:"required,email"`
	Refresh    string   `mapstructure:"refresh" validate:"required"`
	Retry      string   `mapstructure:"retry" validate:"required"`
	Expire     string   `mapstructure:"expire" validate:"required"`
	MinTTL     string   `mapstructure:"min_ttl" validate:"required"`
	NS         []string `mapstructure:"ns"`
	MX         []string `mapstructure:"mx"`
	A          string   `mapstructure:"a"`
}

// DefaultZoneDefaults returns the stock zone defaults.
func DefaultZoneDefaults() ZoneDefaults {
	return ZoneDefaults{
		TTL:        "1h",
		NameServer: "ns1.example.com",
		Hostmaster: "hostmaster@example.com",
		Refresh:    "1d",
		Retry:      "2h",
		Expire:     "4w",
		MinTTL:     "1h",
		NS:         []string{"ns1.example.com.", "ns2.example.com."},
		MX:         []string{"10 mail.example.com."},
	}
}

// Domain is a DNS domain. A domain whose parent is also a domain is a
// subdomain: its records live in the zone of its top domain.
type Domain struct {
	Name string

	// Top is the name of the outermost existing parent domain, empty for top domains.
	Top string

	Records []Record

	// zone holds the records of the domain and of its subdomains, by owner name.
	zone   []zoneEntry
	serial *SerialBook
}

type zoneEntry struct {
	owner   string
	records []Record
}

// Kind implements orchestration.Instance.
func (d *Domain) Kind() string { return KindDomain }

// ID implements orchestration.Instance.
func (d *Domain) ID() string { return d.Name }

// String implements orchestration.Instance.
func (d *Domain) String() string { return d.Name }

// IsTop reports whether the domain owns a zone.
func (d *Domain) IsTop() bool { return d.Top == "" }

// Origin returns the name of the zone the domain belongs to.
func (d *Domain) Origin() string {
	if d.Top != "" {
		return d.Top
	}
	return d.Name
}

// Serial returns the current zone serial.
func (d *Domain) Serial() int {
	if d.serial == nil {
		return 0
	}
	return d.serial.Serial(d.Origin())
}

// RefreshSerial advances the zone serial.
func (d *Domain) RefreshSerial(now time.Time) error {
	if d.serial == nil {
		d.serial = NewSerialBook(nil)
	}
	_, err := d.serial.Bump(d.Origin(), now)
	return err
}

// Attrs implements orchestration.Instance. Top domains list every record of
// their zone, so a change to a subdomain record changes the top domain too.
func (d *Domain) Attrs() map[string]any {
	var records []any
	for _, e := range d.entries() {
		for _, r := range e.records {
			records = append(records, map[string]any{
				"name":  e.owner,
				"type":  r.Type,
				"value": r.Value,
				"ttl":   r.TTL,
			})
		}
	}
	return map[string]any{
		"name":    d.Name,
		"top":     d.Top,
		"origin":  d.Origin(),
		"is_top":  d.IsTop(),
		"serial":  d.Serial(),
		"records": records,
	}
}

func (d *Domain) entries() []zoneEntry {
	if d.IsTop() && d.zone != nil {
		return d.zone
	}
	return []zoneEntry{{owner: d.Name, records: sortedRecords(d.Records)}}
}

// RenderZone renders the zone file body of a top domain.
func (d *Domain) RenderZone(defaults ZoneDefaults) (string, error) {
	if !d.IsTop() {
		return "", fmt.Errorf("%s is a subdomain of %s and has no zone", d.Name, d.Top)
	}

	var b strings.Builder
	for i, e := range d.entries() {
		records := e.records
		if i == 0 {
			records = d.withDefaults(records, defaults)
		}
		for _, r := range records {
			ttl := r.TTL
			if ttl == "" {
				ttl = defaults.TTL
			}
			fmt.Fprintf(&b, "%-38s %7s IN %-8s%s\n", e.owner+".", ttl, r.Type, r.Value)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func (d *Domain) withDefaults(records []Record, defaults ZoneDefaults) []Record {
	types := make(map[string]bool)
	for _, r := range records {
		types[r.Type] = true
	}
	out := make([]Record, 0, len(records)+4)

	if !types[RecordSOA] {
		soa := strings.Join([]string{
			strings.TrimSuffix(defaults.NameServer, ".") + ".",
			FormatHostmaster(defaults.Hostmaster),
			fmt.Sprint(d.Serial()),
			defaults.Refresh,
			defaults.Retry,
			defaults.Expire,
			defaults.MinTTL,
		}, " ")
		out = append(out, Record{Domain: d.Name, Type: RecordSOA, Value: soa})
	}
	out = append(out, records...)

	if !types[RecordNS] {
		for _, ns := range defaults.NS {
			out = append(out, Record{Domain: d.Name, Type: RecordNS, Value: ns})
		}
	}
	noCNAME := !types[RecordCNAME]
	if !types[RecordMX] && noCNAME {
		for _, mx := range defaults.MX {
			out = append(out, Record{Domain: d.Name, Type: RecordMX, Value: mx})
		}
	}
	if !types[RecordA] && !types[RecordAAAA] && noCNAME && defaults.A != "" {
		out = append(out, Record{Domain: d.Name, Type: RecordA, Value: defaults.A})
	}
	return out
}

// FormatHostmaster turns hostmaster@example.com into hostmaster.example.com.
func FormatHostmaster(email string) string {
	return strings.TrimSuffix(strings.Replace(email, "@", ".", 1), ".") + "."
}

func sortedRecords(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// ParentNames returns the strict parent names of a domain, outermost last:
// "a.b.example.com" gives "b.example.com", "example.com", "com".
func ParentNames(name string) []string {
	var out []string
	for {
		i := strings.Index(name, ".")
		if i < 0 {
			return out
		}
		name = name[i+1:]
		out = append(out, name)
	}
}
