package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/hostpanel/orchestra/pkg/backends"
	"github.com/hostpanel/orchestra/pkg/backends/apache"
	"github.com/hostpanel/orchestra/pkg/backends/bind9"
	"github.com/hostpanel/orchestra/pkg/models"
	"github.com/hostpanel/orchestra/pkg/orchestration"
	"github.com/hostpanel/orchestra/pkg/stores"
	"github.com/hostpanel/orchestra/pkg/telemetry"
	"github.com/hostpanel/orchestra/pkg/transports/local"
	"github.com/hostpanel/orchestra/pkg/transports/ssh"
)

// EnvPrefix prefixes every environment override, e.g. ORCHESTRA_ENGINE_WORKERS.
const EnvPrefix = "ORCHESTRA"

// Settings is the orchestrator configuration.
type Settings struct {
	Database  DatabaseSettings  `mapstructure:"database"`
	Engine    EngineSettings    `mapstructure:"engine"`
	Domains   bind9.Settings    `mapstructure:"domains"`
	Websites  WebsiteSettings   `mapstructure:"websites"`
	SSH       ssh.Config        `mapstructure:"ssh"`
	Local     local.Config      `mapstructure:"local"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Policy    PolicySettings    `mapstructure:"policy"`
	Purge     PurgeSettings     `mapstructure:"purge"`
	Inventory InventorySettings `mapstructure:"inventory"`
}

// DatabaseSettings locates the SQLite database.
type DatabaseSettings struct {
	Path         string `mapstructure:"path" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// EngineSettings configures the execution engine and the builder.
type EngineSettings struct {
	Workers   int           `mapstructure:"workers" validate:"gte=1"`
	QueueSize int           `mapstructure:"queue_size" validate:"gte=1"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// DisableExecution records logs without running scripts.
	DisableExecution bool `mapstructure:"disable_execution"`

	// SkipUnchanged drops saves whose fingerprint matches the last successful run.
	SkipUnchanged bool `mapstructure:"skip_unchanged"`
}

// WebsiteSettings extends the apache settings with website model defaults.
type WebsiteSettings struct {
	apache.Settings `mapstructure:",squash"`

	DefaultProtocol string   `mapstructure:"default_protocol" validate:"oneof=http https http/https https-only"`
	DefaultIPs      []string `mapstructure:"default_ips" validate:"min=1,dive,ip|eq=*"`
}

// TelemetrySettings mirrors telemetry.Config for file and env configuration.
type TelemetrySettings struct {
	Environment string `mapstructure:"environment"`

	Logging struct {
		Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
		Format string `mapstructure:"format" validate:"oneof=console json"`
		Output string `mapstructure:"output"`
	} `mapstructure:"logging"`

	Tracing struct {
		Enabled      bool    `mapstructure:"enabled"`
		Exporter     string  `mapstructure:"exporter" validate:"oneof=otlp stdout none"`
		Endpoint     string  `mapstructure:"endpoint"`
		SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
		Insecure     bool    `mapstructure:"insecure"`
	} `mapstructure:"tracing"`

	Metrics struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address" validate:"required_if=Enabled true"`
		Path          string `mapstructure:"path"`
	} `mapstructure:"metrics"`

	Events struct {
		Enabled    bool `mapstructure:"enabled"`
		BufferSize int  `mapstructure:"buffer_size" validate:"gte=0"`
	} `mapstructure:"events"`
}

// PolicySettings locates custom script policies.
type PolicySettings struct {
	Enabled bool `mapstructure:"enabled"`

	// Dir holds .rego and .json policy files. Empty uses the builtin policies only.
	Dir string `mapstructure:"dir"`
}

// PurgeSettings configures the log janitor.
type PurgeSettings struct {
	Schedule  string        `mapstructure:"schedule" validate:"required"`
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
}

// InventorySettings locates the inventory file.
type InventorySettings struct {
	Path  string `mapstructure:"path" validate:"required"`
	Watch bool   `mapstructure:"watch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "orchestra.db")
	v.SetDefault("database.max_open_conns", 8)

	engine := orchestration.DefaultEngineConfig()
	v.SetDefault("engine.workers", engine.Workers)
	v.SetDefault("engine.queue_size", engine.QueueSize)
	v.SetDefault("engine.timeout", engine.Timeout)
	v.SetDefault("engine.disable_execution", false)
	v.SetDefault("engine.skip_unchanged", false)

	domains := bind9.DefaultSettings()
	v.SetDefault("domains.masters_path", domains.MastersPath)
	v.SetDefault("domains.slaves_path", domains.SlavesPath)
	v.SetDefault("domains.zone_path", domains.ZonePath)
	v.SetDefault("domains.masters", []string{})
	v.SetDefault("domains.slaves", []string{})
	v.SetDefault("domains.check_zone_command", domains.CheckZoneCommand)
	v.SetDefault("domains.reload_command", domains.ReloadCommand)
	v.SetDefault("domains.zone.ttl", domains.Zone.TTL)
	v.SetDefault("domains.zone.name_server", domains.Zone.NameServer)
	v.SetDefault("domains.zone.hostmaster", domains.Zone.Hostmaster)
	v.SetDefault("domains.zone.refresh", domains.Zone.Refresh)
	v.SetDefault("domains.zone.retry", domains.Zone.Retry)
	v.SetDefault("domains.zone.expire", domains.Zone.Expire)
	v.SetDefault("domains.zone.min_ttl", domains.Zone.MinTTL)
	v.SetDefault("domains.zone.ns", domains.Zone.NS)
	v.SetDefault("domains.zone.mx", domains.Zone.MX)
	v.SetDefault("domains.zone.a", domains.Zone.A)

	websites := apache.DefaultSettings()
	v.SetDefault("websites.sites_available", websites.SitesAvailable)
	v.SetDefault("websites.sites_enabled", websites.SitesEnabled)
	v.SetDefault("websites.document_root", websites.DocumentRoot)
	v.SetDefault("websites.log_dir", websites.LogDir)
	v.SetDefault("websites.cert_file", websites.CertFile)
	v.SetDefault("websites.key_file", websites.KeyFile)
	v.SetDefault("websites.enable_command", websites.EnableCommand)
	v.SetDefault("websites.disable_command", websites.DisableCommand)
	v.SetDefault("websites.config_test_command", websites.ConfigTestCommand)
	v.SetDefault("websites.reload_command", websites.ReloadCommand)
	v.SetDefault("websites.default_protocol", models.ProtocolHTTP)
	v.SetDefault("websites.default_ips", []string{"*"})

	sshCfg := ssh.DefaultConfig("root")
	v.SetDefault("ssh.port", sshCfg.Port)
	v.SetDefault("ssh.user", sshCfg.User)
	v.SetDefault("ssh.auth_method", string(sshCfg.AuthMethod))
	v.SetDefault("ssh.password", "")
	v.SetDefault("ssh.private_key_path", "")
	v.SetDefault("ssh.private_key_passphrase", "")
	v.SetDefault("ssh.known_hosts_path", sshCfg.KnownHostsPath)
	v.SetDefault("ssh.strict_host_key_checking", sshCfg.StrictHostKeyChecking)
	v.SetDefault("ssh.connection_timeout", sshCfg.ConnectionTimeout)
	v.SetDefault("ssh.keep_alive_interval", sshCfg.KeepAliveInterval)
	v.SetDefault("ssh.max_keep_alive_retries", sshCfg.MaxKeepAliveRetries)
	v.SetDefault("ssh.remote_dir", sshCfg.RemoteDir)
	v.SetDefault("ssh.interpreter", sshCfg.Interpreter)
	v.SetDefault("ssh.sudo", false)
	v.SetDefault("ssh.proxy_host", "")
	v.SetDefault("ssh.proxy_port", sshCfg.ProxyPort)

	v.SetDefault("local.interpreter", "bash")
	v.SetDefault("local.temp_dir", "")
	v.SetDefault("local.wait_delay", 2*time.Second)

	tel := telemetry.DefaultConfig()
	v.SetDefault("telemetry.environment", tel.Environment)
	v.SetDefault("telemetry.logging.level", tel.Logging.Level)
	v.SetDefault("telemetry.logging.format", tel.Logging.Format)
	v.SetDefault("telemetry.logging.output", "stderr")
	v.SetDefault("telemetry.tracing.enabled", tel.Tracing.Enabled)
	v.SetDefault("telemetry.tracing.exporter", tel.Tracing.Exporter)
	v.SetDefault("telemetry.tracing.endpoint", tel.Tracing.Endpoint)
	v.SetDefault("telemetry.tracing.sampling_rate", tel.Tracing.SamplingRate)
	v.SetDefault("telemetry.tracing.insecure", tel.Tracing.Insecure)
	v.SetDefault("telemetry.metrics.enabled", tel.Metrics.Enabled)
	v.SetDefault("telemetry.metrics.listen_address", tel.Metrics.ListenAddress)
	v.SetDefault("telemetry.metrics.path", tel.Metrics.Path)
	v.SetDefault("telemetry.events.enabled", tel.Events.Enabled)
	v.SetDefault("telemetry.events.buffer_size", tel.Events.BufferSize)

	v.SetDefault("policy.enabled", true)
	v.SetDefault("policy.dir", "")

	v.SetDefault("purge.schedule", "@daily")
	v.SetDefault("purge.retention", 30*24*time.Hour)

	v.SetDefault("inventory.path", "inventory.yaml")
	v.SetDefault("inventory.watch", true)
}

// LoadSettings reads settings from path, or from orchestra.yaml in the working
// directory or /etc/orchestra when path is empty. A missing default file is not
// an error. Environment variables override file values.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("orchestra")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/orchestra")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings with their validation tags.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Backends returns the backend settings.
func (s *Settings) Backends() backends.Settings {
	return backends.Settings{Domains: s.Domains, Websites: s.Websites.Settings}
}

// EngineConfig returns the execution engine configuration.
func (s *Settings) EngineConfig() orchestration.EngineConfig {
	return orchestration.EngineConfig{
		Workers:          s.Engine.Workers,
		QueueSize:        s.Engine.QueueSize,
		Timeout:          s.Engine.Timeout,
		DisableExecution: s.Engine.DisableExecution,
	}
}

// StoreConfig returns the SQLite store configuration.
func (s *Settings) StoreConfig() stores.Config {
	return stores.Config{Path: s.Database.Path, MaxOpenConns: s.Database.MaxOpenConns}
}

// SnapshotOptions returns the model defaults.
func (s *Settings) SnapshotOptions() models.SnapshotOptions {
	return models.SnapshotOptions{
		DefaultProtocol: s.Websites.DefaultProtocol,
		DefaultIPs:      s.Websites.DefaultIPs,
	}
}

// TelemetryConfig returns the telemetry configuration for version.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	t := s.Telemetry
	cfg.Environment = t.Environment
	cfg.Logging.Level = t.Logging.Level
	cfg.Logging.Format = t.Logging.Format
	cfg.Logging.Output = t.Logging.Output
	cfg.Tracing.Enabled = t.Tracing.Enabled
	cfg.Tracing.Exporter = t.Tracing.Exporter
	cfg.Tracing.Endpoint = t.Tracing.Endpoint
	cfg.Tracing.SamplingRate = t.Tracing.SamplingRate
	cfg.Tracing.Insecure = t.Tracing.Insecure
	cfg.Metrics.Enabled = t.Metrics.Enabled
	cfg.Metrics.ListenAddress = t.Metrics.ListenAddress
	cfg.Metrics.Path = t.Metrics.Path
	cfg.Events.Enabled = t.Events.Enabled
	cfg.Events.BufferSize = t.Events.BufferSize
	return cfg
}
