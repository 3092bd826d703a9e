package backend

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSimulatedConsignment(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	encoded, err := NewSimulatedConsignment("testnet", "O1", 5, 3500, now)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var c SimulatedConsignment
	require.NoError(t, json.Unmarshal(raw, &c))
	assert.Equal(t, SimulatedConsignmentType, c.Type)
	assert.True(t, c.Simulated)
	assert.Equal(t, int64(3500), c.UnitAmount)
	assert.Equal(t, now, c.Timestamp)
	assert.Len(t, c.Hash, 64)

	again, err := NewSimulatedConsignment("testnet", "O1", 5, 3500, now)
	require.NoError(t, err)
	assert.Equal(t, encoded, again)
}
