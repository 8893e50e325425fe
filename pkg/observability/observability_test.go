package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "drp-core", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestFromEnv(t *testing.T) {
	t.Run("no endpoint disables export", func(t *testing.T) {
		cfg := FromEnv("", "production")
		require.False(t, cfg.Enabled)
		require.Equal(t, "production", cfg.Environment)
	})

	t.Run("endpoint enables export", func(t *testing.T) {
		cfg := FromEnv("collector:4317", "production")
		require.True(t, cfg.Enabled)
		require.Equal(t, "collector:4317", cfg.OTLPEndpoint)
		require.False(t, cfg.Insecure)
	})

	t.Run("development uses insecure transport", func(t *testing.T) {
		cfg := FromEnv("localhost:4317", "development")
		require.True(t, cfg.Insecure)
	})
}

func TestNewProviderDisabled(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, p)

	// Should not fail even when disabled
	tracer := p.Tracer()
	require.NotNil(t, tracer)

	meter := p.Meter()
	require.NotNil(t, meter)
}

func TestTrackOperation(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	attrs := DecideOperation("model-x", "approved", 0.93)

	newCtx, finish := p.TrackOperation(ctx, "ledger.decide", attrs...)
	require.NotNil(t, newCtx)

	// Simulate some work
	time.Sleep(1 * time.Millisecond)

	// Call finish without error
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	_, finish := p.TrackOperation(ctx, "quorum.sign")

	// Call finish with error
	testErr := errors.New("test error")
	finish(testErr)

	// Should not panic
}

func TestRecordMetrics(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()

	// These should not panic when provider is disabled
	p.RecordRequest(ctx, attribute.String("test", "value"))
	p.RecordError(ctx, errors.New("test"), attribute.String("test", "value"))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("test", "value"))
}

func TestStartSpan(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	newCtx, span := p.StartSpan(ctx, "test.span")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	span.End()
}

func TestShutdown(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.Shutdown(ctx)
	require.NoError(t, err)
}

// Attribute helper shapes.

func TestDecideOperation(t *testing.T) {
	attrs := DecideOperation("model-x", "approved", 0.93)
	require.Len(t, attrs, 3)
	require.Equal(t, "drp.model.id", string(attrs[0].Key))
	require.Equal(t, "model-x", attrs[0].Value.AsString())
}

func TestQuorumOperation(t *testing.T) {
	attrs := QuorumOperation(42, 3, 3)
	require.Len(t, attrs, 3)
	require.Equal(t, "drp.block.index", string(attrs[0].Key))
	require.Equal(t, int64(42), attrs[0].Value.AsInt64())
}

func TestDisputeOperation(t *testing.T) {
	attrs := DisputeOperation("disp-1", "resolved")
	require.Len(t, attrs, 2)
	require.Equal(t, "drp.dispute.status", string(attrs[1].Key))
	require.Equal(t, "resolved", attrs[1].Value.AsString())
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()
	span := SpanFromContext(ctx)
	require.NotNil(t, span) // Returns a no-op span if none
}

func TestAddSpanEvent(t *testing.T) {
	ctx := context.Background()
	// Should not panic
	AddSpanEvent(ctx, "test.event", attribute.String("key", "value"))
}

func TestSetSpanStatus(t *testing.T) {
	ctx := context.Background()
	// Should not panic
	SetSpanStatus(ctx, errors.New("test error"))
	SetSpanStatus(ctx, nil)
}
