package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Equal(t, ctx, WithRequestID(ctx, ""))

	tagged := WithRequestID(ctx, "req-9")
	assert.Equal(t, "req-9", RequestID(tagged))
	assert.Equal(t, "req-9", RequestID(context.WithoutCancel(tagged)))
}
