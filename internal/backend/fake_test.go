package backend

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeBackend_WritesConsignment(t *testing.T) {
	f := NewFakeBackend(1000)
	out := filepath.Join(t.TempDir(), "c.rgb")

	require.NoError(t, f.Transfer(context.Background(), TransferRequest{
		OrderID:      "O1",
		Recipient:    "rgb:abc:utxob:def",
		UnitAmount:   3500,
		ArtifactPath: out,
		Credential:   []byte("pw"),
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var artifact map[string]any
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, float64(3500), artifact["unit_amount"])

	reqs := f.Requests()
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].Credential)
}

func TestFakeBackend_FailNext(t *testing.T) {
	f := NewFakeBackend(0)
	f.FailNext(2)
	req := TransferRequest{ArtifactPath: filepath.Join(t.TempDir(), "c"), Credential: []byte("pw")}

	assert.ErrorIs(t, f.Transfer(context.Background(), req), ErrFakeTransfer)
	assert.ErrorIs(t, f.Transfer(context.Background(), req), ErrFakeTransfer)
	assert.NoError(t, f.Transfer(context.Background(), req))
	assert.Equal(t, 3, f.TransferCalls())
}

func TestFakeBackend_RequiresCredential(t *testing.T) {
	f := NewFakeBackend(0)
	assert.Error(t, f.Transfer(context.Background(), TransferRequest{ArtifactPath: filepath.Join(t.TempDir(), "c")}))
}
