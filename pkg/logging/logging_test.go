package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestLoggerCapturesOutput(t *testing.T) {
	tl := NewTestLogger(t)

	tl.Info().Str("entity_type", "employee").Msg("Canonizing fragment")
	tl.Debug().Msg("Second line")

	assert.True(t, tl.Contains("Canonizing fragment"))
	assert.True(t, tl.Contains(`"entity_type":"employee"`))
	assert.Len(t, tl.Lines(), 2)
}

func TestContextLogger(t *testing.T) {
	tl := NewTestLogger(t)

	ctx := WithLogger(context.Background(), tl.Logger)
	require.Same(t, tl.Logger, FromContext(ctx))

	// Derived field helpers produce a new logger carrying the field.
	ctx = WithCorrelationID(ctx, "corr-1")
	Ctx(ctx).Info().Msg("resolved")
	assert.True(t, tl.Contains(`"correlation_id":"corr-1"`))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, Default(), FromContext(context.Background()))
}
