package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "lobbysignal", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	defer span.End()

	AddSpanAttributes(ctx,
		attribute.String("test.key", "test.value"),
		attribute.Int("test.number", 42),
	)
	RecordError(ctx, errors.New("boom"))
	MeasureDuration(ctx, time.Now().Add(-10*time.Millisecond), "test.operation")
}

func TestDomainSpans(t *testing.T) {
	ctx := context.Background()

	_, span := TraceHTTPRequest(ctx, "POST", "/api/lobby/:lobbyId/signal")
	require.NotNil(t, span)
	span.End()

	_, span = TraceRelay(ctx, "post", "lobby-1", "peer-a")
	require.NotNil(t, span)
	span.End()

	_, span = TracePresence(ctx, "notify_joined", "lobby-1", "peer-a")
	require.NotNil(t, span)
	span.End()

	_, span = TraceNegotiation(ctx, "create_offer", "peer-a", "peer-b")
	require.NotNil(t, span)
	span.End()

	_, span = TraceDatabaseOperation(ctx, "get", "lobbies")
	require.NotNil(t, span)
	span.End()
}
