package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/asset-delivery-engine/internal/config"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenStore(ctx, &config.Config{StoreDriver: config.StoreDriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, mem)

	sqlite, err := OpenStore(ctx, &config.Config{
		StoreDriver: config.StoreDriverSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "delivery.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, sqlite)
	require.NoError(t, sqlite.Close())

	_, err = OpenStore(ctx, &config.Config{StoreDriver: "mongo"})
	assert.ErrorContains(t, err, "unknown store driver")
}
