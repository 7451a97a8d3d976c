package collector

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/scottag99/glowroot"

// OTelExporter mirrors spans onto an OpenTelemetry tracer. Child spans are
// parented on the OpenTelemetry span of their parent while it is open.
type OTelExporter struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider

	mu   sync.Mutex
	open map[uuid.UUID]trace.Span
}

// NewOTelExporter exports through tracer. provider is shut down with the
// exporter when non-nil.
func NewOTelExporter(tracer trace.Tracer, provider *sdktrace.TracerProvider) *OTelExporter {
	return &OTelExporter{tracer: tracer, provider: provider, open: make(map[uuid.UUID]trace.Span)}
}

// NewStdoutExporter writes finished spans as JSON to w.
func NewStdoutExporter(w io.Writer) (*OTelExporter, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	return NewOTelExporter(tp.Tracer(instrumentationName), tp), nil
}

// SpanStarted opens the OpenTelemetry span of s.
func (e *OTelExporter) SpanStarted(s *Span) {
	ctx := context.Background()
	e.mu.Lock()
	if parent, ok := e.open[s.ParentID]; ok {
		ctx = trace.ContextWithSpan(ctx, parent)
	}
	e.mu.Unlock()

	_, span := e.tracer.Start(ctx, s.Message,
		trace.WithTimestamp(s.Start),
		trace.WithAttributes(
			attribute.String("glowroot.metric", s.Metric),
			attribute.String("glowroot.span_id", s.ID.String()),
		))

	e.mu.Lock()
	e.open[s.ID] = span
	e.mu.Unlock()
}

// SpanEnded ends the OpenTelemetry span of s, marking errors.
func (e *OTelExporter) SpanEnded(_ context.Context, s *Span) error {
	e.mu.Lock()
	span, ok := e.open[s.ID]
	delete(e.open, s.ID)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("span %s was never started", s.ID)
	}

	if s.Failed() {
		span.SetStatus(codes.Error, s.Error)
		span.SetAttributes(attribute.String("glowroot.error", s.Error))
	}
	span.End(trace.WithTimestamp(s.End))
	return nil
}

// Shutdown flushes the tracer provider.
func (e *OTelExporter) Shutdown(ctx context.Context) error {
	if e.provider == nil {
		return nil
	}
	return e.provider.Shutdown(ctx)
}
