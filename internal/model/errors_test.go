package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferFailedError(t *testing.T) {
	backendErr := errors.New("rgb: insufficient allocations")
	err := fmt.Errorf("deliver O1: %w", &TransferFailedError{Attempts: 3, Err: backendErr})

	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, backendErr)

	tf, ok := IsTransferFailed(err)
	require.True(t, ok)
	assert.Equal(t, 3, tf.Attempts)
	assert.Contains(t, tf.Error(), "after 3 attempt(s)")

	_, ok = IsTransferFailed(ErrRateLimited)
	assert.False(t, ok)
}

func TestPublicMessage_HidesBackendText(t *testing.T) {
	err := &TransferFailedError{Attempts: 1, Err: errors.New("stderr: wallet password hunter2 rejected")}

	msg := PublicMessage(err)
	assert.NotContains(t, msg, "hunter2")
	assert.NotContains(t, msg, "stderr")
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "please try a smaller purchase", PublicMessage(ErrInvalidUnitCount))
	assert.Equal(t, "service temporarily unavailable", PublicMessage(ErrServiceUnhealthy))
	assert.Equal(t, "internal error", PublicMessage(errors.New("boom")))
	assert.Empty(t, PublicMessage(nil))
}
