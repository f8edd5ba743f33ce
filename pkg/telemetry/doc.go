// Package telemetry provides the observability plumbing of orchestra.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and an in-process event publisher behind one Telemetry value:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Logging
//
// Components derive child loggers and add the backend log identity as fields:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithBackend("dns-master").WithServer("ns1").Info("Backend log started")
//
// # Tracing
//
// Each bucket execution gets a span tagged with AttrBackend, AttrServer and
// AttrLogID. The final state is attached with AddLogEvent. A nil *Tracer falls
// back to the global provider, which is a no-op unless one is installed.
//
// Supported exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics count terminal backend logs by state, compiled buckets, skipped
// operations, error classes and codes, inventory reloads and purges. A nil or
// disabled *Metrics records nothing, so callers never need to check.
//
// # Events
//
// State transitions of backend logs are published as EventTypeLogStateChanged
// events. Subscribers receive them asynchronously:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.LogID, e.Data["state"])
//	}, telemetry.FilterByBackend("dns-master"))
package telemetry
