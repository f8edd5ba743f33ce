package apache

import "strings"

// Settings configures the apache2 backend. Path settings accept the
// placeholders {account}, {name} and {site}.
type Settings struct {
	SitesAvailable string `mapstructure:"sites_available" validate:"required"`
	SitesEnabled   string `mapstructure:"sites_enabled" validate:"required"`
	DocumentRoot   string `mapstructure:"document_root" validate:"required"`
	LogDir         string `mapstructure:"log_dir" validate:"required"`
	CertFile       string `mapstructure:"cert_file"`
	KeyFile        string `mapstructure:"key_file"`

	EnableCommand     string `mapstructure:"enable_command" validate:"required"`
	DisableCommand    string `mapstructure:"disable_command" validate:"required"`
	ConfigTestCommand string `mapstructure:"config_test_command"`
	ReloadCommand     string `mapstructure:"reload_command" validate:"required"`
}

// DefaultSettings returns the Debian layout.
func DefaultSettings() Settings {
	return Settings{
		SitesAvailable:    "/etc/apache2/sites-available",
		SitesEnabled:      "/etc/apache2/sites-enabled",
		DocumentRoot:      "/home/{account}/webapps/{name}",
		LogDir:            "/var/log/apache2",
		CertFile:          "/etc/ssl/certs/{site}.pem",
		KeyFile:           "/etc/ssl/private/{site}.key",
		EnableCommand:     "a2ensite -q",
		DisableCommand:    "a2dissite -q",
		ConfigTestCommand: "apache2ctl configtest",
		ReloadCommand:     "service apache2 reload",
	}
}

func expand(v, account, name string) string {
	return strings.NewReplacer(
		"{account}", account,
		"{name}", name,
		"{site}", account+"-"+name,
	).Replace(v)
}
