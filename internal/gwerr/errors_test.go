package gwerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport error is retryable", New(KindTransport, "dial failed"), true},
		{"timeout error is retryable", New(KindTimeout, "deadline exceeded"), true},
		{"config error is not retryable", New(KindConfig, "bad reference"), false},
		{"protocol error is not retryable", New(KindProtocol, "bad envelope"), false},
		{"unavailable error is not retryable", New(KindUnavailable, "breaker open"), false},
		{"wrapped transport error is retryable", fmt.Errorf("outer: %w", New(KindTransport, "reset")), true},
		{"unclassified error defaults to retryable", errors.New("raw io error"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestWrap_NilCausePassesThrough(t *testing.T) {
	assert.Nil(t, Wrap(KindTransport, "should not build", nil))
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := Wrap(KindTransport, "dial backend", errors.New("connection refused"))
	assert.Contains(t, err.Error(), "dial backend")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "TransportError")
}

func TestJSONRPCCode(t *testing.T) {
	assert.Equal(t, -32002, JSONRPCCode(KindUnavailable))
	assert.Equal(t, -32001, JSONRPCCode(KindCapabilityNotFound))
	assert.Equal(t, -32602, JSONRPCCode(KindSchemaValidation))
}
