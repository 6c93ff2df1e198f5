package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lobbysignal"

// TracerProvider wraps the SDK provider. The zero value, returned when
// tracing is disabled, shuts down as a no-op.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Config controls the Jaeger exporter. Tracing is off unless Enabled.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	JaegerURL      string
	Environment    string
	SampleRate     float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "lobbysignal",
		ServiceVersion: "dev",
		JaegerURL:      "http://localhost:14268/api/traces",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// Init installs a Jaeger-backed global tracer provider and W3C propagation.
// Spans started while tracing is disabled go to otel's no-op provider.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Follow the caller's sampling decision when a request carries one.
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a span on the package tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// AddSpanAttributes adds attributes to the span in ctx, if it is recording.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

var (
	LobbyIDKey     = attribute.Key("lobby.id")
	PeerIDKey      = attribute.Key("peer.id")
	RemotePeerKey  = attribute.Key("peer.remote_id")
	MessageTypeKey = attribute.Key("signal.message_type")
	RecipientsKey  = attribute.Key("signal.recipients")
	MessagesKey    = attribute.Key("signal.messages")
	DurationKey    = attribute.Key("duration_ms")
)

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http.%s", method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceRelay traces a mailbox operation: post and drain on the relay,
// poll on the client.
func TraceRelay(ctx context.Context, operation, lobbyID, peerID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "relay."+operation,
		trace.WithAttributes(
			attribute.String("relay.operation", operation),
			LobbyIDKey.String(lobbyID),
			PeerIDKey.String(peerID),
		),
	)
}

// TracePresence traces a presence fan-out.
func TracePresence(ctx context.Context, operation, lobbyID, peerID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "presence."+operation,
		trace.WithAttributes(
			attribute.String("presence.operation", operation),
			LobbyIDKey.String(lobbyID),
			PeerIDKey.String(peerID),
		),
	)
}

// TraceNegotiation traces one offer/answer step with a remote peer.
func TraceNegotiation(ctx context.Context, operation, localPeer, remotePeer string) (context.Context, trace.Span) {
	return StartSpan(ctx, "webrtc."+operation,
		trace.WithAttributes(
			attribute.String("webrtc.operation", operation),
			PeerIDKey.String(localPeer),
			RemotePeerKey.String(remotePeer),
		),
	)
}

func TraceDatabaseOperation(ctx context.Context, operation, collection string) (context.Context, trace.Span) {
	return StartSpan(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", operation),
			attribute.String("db.collection", collection),
		),
	)
}

// MeasureDuration records the time since start on the span in ctx.
func MeasureDuration(ctx context.Context, start time.Time, operation string) {
	AddSpanAttributes(ctx,
		attribute.String("operation", operation),
		DurationKey.Int64(time.Since(start).Milliseconds()),
	)
}
