package trace

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestStartSpanDisabled(t *testing.T) {
	require.NoError(t, InitWithWriter(Config{}, "test", &bytes.Buffer{}))
	assert.False(t, Enabled())

	ctx := context.Background()
	got, span := StartSpan(ctx, "noop")
	assert.Equal(t, ctx, got)
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestStartSpanExports(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(Config{Enabled: true}, "test", &buf))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })
	assert.True(t, Enabled())

	_, span := StartSpan(context.Background(), "snapshot.fetch", attribute.String("table", "positions"))
	assert.True(t, span.SpanContext().IsValid())
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	out := buf.String()
	assert.Contains(t, out, "snapshot.fetch")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "livedesk")
}
