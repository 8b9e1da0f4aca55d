package monitoring

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Span represents a single traced operation. It wraps a real OpenTelemetry
// span (oteltrace.Span) so this package's existing RecentSpans/SpansByTraceID
// inspection API keeps working locally while the underlying span is also
// exported through whatever otel SDK/exporter the process configures.
type Span struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	ParentID   string            `json:"parent_id,omitempty"`
	Name       string            `json:"name"`
	Service    string            `json:"service"`
	Kind       SpanKind          `json:"kind"`
	Status     SpanStatus        `json:"status"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Events     []SpanEvent       `json:"events,omitempty"`
	otelSpan   oteltrace.Span
	mu         sync.Mutex
}

// SpanKind mirrors OpenTelemetry SpanKind.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// SpanStatus mirrors OpenTelemetry status codes.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// SpanEvent is a timestamped annotation within a span.
type SpanEvent struct {
	Name       string            `json:"name"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Tracer creates and manages spans for distributed tracing, bridging to a
// real otel.Tracer while keeping a bounded local ring buffer of completed
// spans for in-process inspection via RecentSpans and SpansByTraceID.
type Tracer struct {
	service string
	logger  *zap.Logger
	otel    oteltrace.Tracer

	mu      sync.RWMutex
	spans   []*Span // completed spans (ring buffer)
	maxSize int
}

// NewTracer creates a tracer for the given service name.
func NewTracer(service string, logger *zap.Logger) *Tracer {
	return &Tracer{
		service: service,
		logger:  logger.With(zap.String("component", "tracer")),
		otel:    otel.Tracer(service),
		spans:   make([]*Span, 0, 1024),
		maxSize: 10000,
	}
}

// StartSpan creates a new span as a child of any span in the context,
// starting both the local bookkeeping Span and the real otel span it wraps.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	ctx, otelSpan := t.otel.Start(ctx, name)
	sc := otelSpan.SpanContext()

	span := &Span{
		SpanID:     sc.SpanID().String(),
		TraceID:    sc.TraceID().String(),
		Name:       name,
		Service:    t.service,
		Kind:       SpanKindInternal,
		Status:     SpanStatusUnset,
		StartTime:  time.Now(),
		Attributes: make(map[string]string),
		otelSpan:   otelSpan,
	}

	if parent := oteltrace.SpanContextFromContext(ctx); parent.IsValid() && parent.SpanID() != sc.SpanID() {
		span.ParentID = parent.SpanID().String()
	}

	return ctx, span
}

// EndSpan completes a span, recording its duration and status on both the
// local record and the underlying otel span.
func (t *Tracer) EndSpan(span *Span, err error) {
	span.mu.Lock()
	span.EndTime = time.Now()
	if err != nil {
		span.Status = SpanStatusError
		span.Attributes["error"] = err.Error()
	} else {
		span.Status = SpanStatusOK
	}
	otelSpan := span.otelSpan
	span.mu.Unlock()

	if otelSpan != nil {
		if err != nil {
			otelSpan.RecordError(err)
			otelSpan.SetStatus(otelcodes.Error, err.Error())
		} else {
			otelSpan.SetStatus(otelcodes.Ok, "")
		}
		otelSpan.End()
	}

	t.mu.Lock()
	if len(t.spans) >= t.maxSize {
		// Evict oldest 10%
		cut := t.maxSize / 10
		t.spans = t.spans[cut:]
	}
	t.spans = append(t.spans, span)
	t.mu.Unlock()

	t.logger.Debug("Span completed",
		zap.String("name", span.Name),
		zap.String("trace_id", span.TraceID),
		zap.Duration("duration", span.EndTime.Sub(span.StartTime)),
	)
}

// SetAttribute adds a key-value attribute to a span, on both the local
// record and the underlying otel span.
func SetAttribute(span *Span, key, value string) {
	if span == nil {
		return
	}
	span.mu.Lock()
	span.Attributes[key] = value
	otelSpan := span.otelSpan
	span.mu.Unlock()
	if otelSpan != nil {
		otelSpan.SetAttributes(attribute.String(key, value))
	}
}

// AddEvent adds a timestamped event to a span, on both the local record and
// the underlying otel span.
func AddEvent(span *Span, name string, attrs map[string]string) {
	if span == nil {
		return
	}
	span.mu.Lock()
	span.Events = append(span.Events, SpanEvent{
		Name:       name,
		Timestamp:  time.Now(),
		Attributes: attrs,
	})
	otelSpan := span.otelSpan
	span.mu.Unlock()
	if otelSpan != nil {
		kv := make([]attribute.KeyValue, 0, len(attrs))
		for k, v := range attrs {
			kv = append(kv, attribute.String(k, v))
		}
		otelSpan.AddEvent(name, oteltrace.WithAttributes(kv...))
	}
}

// RecentSpans returns the most recent N spans for inspection.
func (t *Tracer) RecentSpans(n int) []*Span {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n > len(t.spans) {
		n = len(t.spans)
	}
	result := make([]*Span, n)
	copy(result, t.spans[len(t.spans)-n:])
	return result
}

// SpansByTraceID returns all spans for a given trace.
func (t *Tracer) SpansByTraceID(traceID string) []*Span {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []*Span
	for _, s := range t.spans {
		if s.TraceID == traceID {
			result = append(result, s)
		}
	}
	return result
}
