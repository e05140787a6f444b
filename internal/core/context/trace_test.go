package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTraceContext_FromActiveSpan(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	tc := NewTraceContext(ctx, "req-1")
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", tc.TraceID)
	assert.Equal(t, "00f067aa0ba902b7", tc.SpanID)
	assert.Equal(t, "req-1", tc.RequestID)
}

func TestNewTraceContext_GeneratesWithoutSpan(t *testing.T) {
	tc := NewTraceContext(context.Background(), "")
	assert.Len(t, tc.TraceID, 32)
	assert.Len(t, tc.SpanID, 16)
	assert.NotEmpty(t, tc.RequestID)

	ctx := WithTrace(context.Background(), tc)
	assert.Equal(t, tc.RequestID, GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}
