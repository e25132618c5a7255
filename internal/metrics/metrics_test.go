package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordBackendSuccess_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordBackendSuccess("search-backend", 0.042)
	})
}

func TestRecordBackendFailure_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordBackendFailure("search-backend")
	})
}

func TestRecordBackendRejected_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordBackendRejected("search-backend")
	})
}

func TestSetBackendHealth_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		SetBackendHealth("search-backend", true, false)
		SetBackendHealth("search-backend", false, true)
	})
}

func TestBoolToFloat(t *testing.T) {
	assert.Equal(t, 1.0, boolToFloat(true))
	assert.Equal(t, 0.0, boolToFloat(false))
}
