package bind9

import (
	"fmt"
	"strings"

	"github.com/hostpanel/orchestra/pkg/models"
)

// Settings configures both bind9 roles.
type Settings struct {
	// MastersPath is the named configuration file holding master zone blocks.
	MastersPath string `mapstructure:"masters_path" validate:"required"`

	// SlavesPath is the named configuration file holding slave zone blocks.
	SlavesPath string `mapstructure:"slaves_path" validate:"required"`

	// ZonePath is the zone file path; "{name}" is replaced by the zone name.
	ZonePath string `mapstructure:"zone_path" validate:"required,contains={name}"`

	// Masters are extra master addresses given to slaves.
	Masters []string `mapstructure:"masters" validate:"dive,ip|hostname_rfc1123"`

	// Slaves are extra slave addresses allowed to transfer from the master.
	Slaves []string `mapstructure:"slaves" validate:"dive,ip|hostname_rfc1123"`

	// CheckZoneCommand validates a zone file before install. It is called with
	// the zone name and the file path. Empty skips the check.
	CheckZoneCommand string `mapstructure:"check_zone_command"`

	// ReloadCommand reloads bind.
	ReloadCommand string `mapstructure:"reload_command" validate:"required"`

	Zone models.ZoneDefaults `mapstructure:"zone"`
}

// DefaultSettings returns the Debian layout.
func DefaultSettings() Settings {
	return Settings{
		MastersPath:      "/etc/bind/named.conf.local",
		SlavesPath:       "/etc/bind/named.conf.local",
		ZonePath:         "/etc/bind/master/{name}",
		CheckZoneCommand: "named-checkzone -k fail -n fail",
		ReloadCommand:    "service bind9 reload",
		Zone:             models.DefaultZoneDefaults(),
	}
}

// ZoneFile returns the zone file path of name.
func (s Settings) ZoneFile(name string) string {
	return strings.ReplaceAll(s.ZonePath, "{name}", name)
}

// subdomainZoneFiles returns the shell glob matching zone files of subdomains
// of name, with the literal parts quoted.
func (s Settings) subdomainZoneFiles(name string, quote func(string) string) (string, error) {
	i := strings.Index(s.ZonePath, "{name}")
	if i < 0 {
		return "", fmt.Errorf("zone path %q has no {name} placeholder", s.ZonePath)
	}
	prefix, suffix := s.ZonePath[:i], s.ZonePath[i+len("{name}"):]
	glob := quote(prefix) + "*" + quote("."+name+suffix)
	return glob, nil
}
