package ocerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchErrorUnwrapAndIs(t *testing.T) {
	fe := New("fetch bundle", KindNetwork, ErrConnectionFailed).WithID("bid-123")

	assert.True(t, errors.Is(fe, ErrConnectionFailed))
	assert.Equal(t, "fetch bundle [bid-123]: connection failed", fe.Error())
}

func TestFetchErrorMessageOnly(t *testing.T) {
	fe := &FetchError{Message: "something went wrong"}
	assert.Equal(t, "something went wrong", fe.Error())
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{ErrConnectionFailed, ErrRequestFailed, ErrTimeout, ErrCircuitOpen}
	for _, err := range retryable {
		require.True(t, IsRetryable(fmt.Errorf("wrapped: %w", err)), "expected %v to be retryable", err)
	}
	assert.False(t, IsRetryable(ErrInvalidConfiguration))
	assert.False(t, IsRetryable(nil))
}

func TestIsConfigurationError(t *testing.T) {
	assert.True(t, IsConfigurationError(ErrInvalidConfiguration))
	assert.True(t, IsConfigurationError(ErrMissingConfiguration))
	assert.False(t, IsConfigurationError(ErrStorageFailed))
}

func TestIsStorageError(t *testing.T) {
	for _, err := range []error{ErrStorageFailed, ErrQueueCorrupt, ErrMultipartAborted} {
		require.True(t, IsStorageError(err), "expected %v to be a storage error", err)
	}
	assert.False(t, IsStorageError(ErrTimeout))
}
