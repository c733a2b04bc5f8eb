package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// EventContext is the instrumentation around one host lifecycle event.
type EventContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
}

// StartEvent opens a span for a host event, counts it and returns a context
// carrying an event-scoped logger. Without telemetry in ctx it only carries ctx.
func StartEvent(ctx context.Context, action, kind, entityID string) *EventContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &EventContext{Ctx: ctx, Logger: FromContext(ctx)}
	}

	spanCtx, span := tel.Tracer.StartEventSpan(ctx, action, kind, entityID)
	logger := tel.Logger.WithEntity(kind, entityID).WithField("action", action)
	if traceID := TraceID(spanCtx); traceID != "" {
		logger = logger.WithField("trace_id", traceID)
	}
	tel.Metrics.RecordEvent(action, kind)

	return &EventContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
	}
}

// End completes the event span.
func (ec *EventContext) End(err error) {
	if ec.Span == nil {
		return
	}
	if err != nil {
		RecordError(ec.Span, err)
	} else {
		RecordSuccess(ec.Span)
	}
	ec.Span.End()
}
