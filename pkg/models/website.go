package models

import (
	"sort"
	"strings"
)

// Website protocols.
const (
	ProtocolHTTP      = "http"
	ProtocolHTTPS     = "https"
	ProtocolHTTPBoth  = "http/https"
	ProtocolHTTPSOnly = "https-only"
)

// WebsiteSpec is a website as declared in the inventory.
type WebsiteSpec struct {
	Name     string   `yaml:"name" json:"name" validate:"required,max=128"`
	Account  string   `yaml:"account" json:"account" validate:"required"`
	Protocol string   `yaml:"protocol,omitempty" json:"protocol,omitempty" validate:"omitempty,oneof=http https http/https https-only"`
	Domains  []string `yaml:"domains" json:"domains" validate:"required,min=1"`
	IPs      []string `yaml:"ips,omitempty" json:"ips,omitempty" validate:"dive,ip|eq=*"`
	Disabled bool     `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Website is a virtual host served for one or more domains.
type Website struct {
	Name     string
	Account  string
	Protocol string
	Domains  []string
	IPs      []string
	IsActive bool
}

// Kind implements orchestration.Instance.
func (w *Website) Kind() string { return KindWebsite }

// ID implements orchestration.Instance.
func (w *Website) ID() string { return w.Name }

// String implements orchestration.Instance.
func (w *Website) String() string { return w.Name }

// Attrs implements orchestration.Instance.
func (w *Website) Attrs() map[string]any {
	return map[string]any{
		"name":      w.Name,
		"account":   w.Account,
		"protocol":  w.Protocol,
		"domains":   append([]string(nil), w.Domains...),
		"ips":       append([]string(nil), w.IPs...),
		"is_active": w.IsActive,
	}
}

// UniqueName is the account-scoped name used for files on the server.
func (w *Website) UniqueName() string {
	return w.Account + "-" + w.Name
}

// ServesHTTP reports whether a plain HTTP vhost is needed.
func (w *Website) ServesHTTP() bool {
	return w.Protocol == ProtocolHTTP || w.Protocol == ProtocolHTTPBoth || w.Protocol == ProtocolHTTPSOnly
}

// ServesHTTPS reports whether a TLS vhost is needed.
func (w *Website) ServesHTTPS() bool {
	return w.Protocol == ProtocolHTTPS || w.Protocol == ProtocolHTTPBoth || w.Protocol == ProtocolHTTPSOnly
}

// HasDomain reports whether the website is served for name.
func (w *Website) HasDomain(name string) bool {
	for _, d := range w.Domains {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

func newWebsite(spec WebsiteSpec, defaultProtocol string, defaultIPs []string) *Website {
	w := &Website{
		Name:     spec.Name,
		Account:  spec.Account,
		Protocol: spec.Protocol,
		Domains:  append([]string(nil), spec.Domains...),
		IPs:      append([]string(nil), spec.IPs...),
		IsActive: !spec.Disabled,
	}
	if w.Protocol == "" {
		w.Protocol = defaultProtocol
	}
	if len(w.IPs) == 0 {
		w.IPs = append([]string(nil), defaultIPs...)
	}
	sort.Strings(w.Domains)
	return w
}
