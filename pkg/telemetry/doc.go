// Package telemetry provides the observability plumbing of the tracker daemon.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus). The engine logs through plain zerolog loggers and
// records its dispatch spans on the global trace provider, so this package
// only has to install the provider and hand out loggers.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	dispatcher.SetObserver(tel.Metrics)
//	ctx = tel.WithContext(ctx)
//
// # Metrics
//
//	tracker_dispatch_total{tracker,kind,outcome}
//	tracker_enqueue_errors_total{tracker}
//	tracker_enqueue_duration_seconds{tracker}
//	tracker_events_total{action,kind}
//	tracker_worker_reports_total{tracker,state}
//
// Metrics are served by the daemon's HTTP listener through Metrics.Handler.
//
// # Logging
//
// The "auto" log format writes a console format on a terminal and JSON
// otherwise. Every host event gets a logger carrying kind, entity_id, action
// and, when tracing is on, trace_id:
//
//	ec := telemetry.StartEvent(ctx, "update", "package", id)
//	defer ec.End(err)
//	ec.Logger.Info("evaluating package")
package telemetry
