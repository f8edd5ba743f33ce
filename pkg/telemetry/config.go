package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry configuration of an orchestra process.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`

	// Environment is reported as the deployment.environment resource attribute.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file opened for appending.
	Output string

	// Caller adds file:line to every entry.
	Caller bool
}

// TracingConfig configures the spans emitted around build, compile and execute.
type TracingConfig struct {
	Enabled  bool
	Exporter string `validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector address, or a file for the stdout exporter.
	Endpoint string

	SamplingRate  float64 `validate:"gte=0,lte=1"`
	Insecure      bool
	ExportTimeout time.Duration
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string `validate:"required_if=Enabled true"`
	Path          string
	Namespace     string

	// DurationBuckets are the script execution time buckets, in seconds.
	// Scripts reloading named or apache routinely take several seconds.
	DurationBuckets []float64
}

// EventsConfig configures the in-process event bus.
type EventsConfig struct {
	Enabled    bool
	BufferSize int `validate:"required_if=Enabled true,gte=0"`

	// Async delivers events in order from a background goroutine instead of
	// the publishing one.
	Async bool
}

// DefaultConfig returns the configuration used when settings leave telemetry
// untouched: console logs at info, everything else off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "orchestra",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "stdout",
			SamplingRate:  1.0,
			Insecure:      true,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			ListenAddress:   ":9090",
			Path:            "/metrics",
			Namespace:       "orchestra",
			DurationBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		Events: EventsConfig{
			BufferSize: 1000,
			Async:      true,
		},
	}
}

// Validate checks the configuration against its validation tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
