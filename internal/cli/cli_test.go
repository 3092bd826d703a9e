package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/asset-delivery-engine/internal/model"
	"github.com/jnst/asset-delivery-engine/internal/vault"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func TestSealThenVerify(t *testing.T) {
	t.Setenv("VAULT_PASSPHRASE", "hunter2")

	out, err := execute(t, "wallet-secret\n", "seal")
	require.NoError(t, err)
	blob := strings.TrimSpace(out)

	cred, err := vault.Decrypt(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "wallet-secret", string(cred.Bytes()))

	out, err = execute(t, "", "verify", blob)
	require.NoError(t, err)
	assert.Contains(t, out, "13 bytes")
	assert.NotContains(t, out, "wallet-secret")
}

func TestSealToFileJSON(t *testing.T) {
	t.Setenv("OPS_PASS", "hunter2")
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "secret")
	blobPath := filepath.Join(dir, "secure.conf")
	require.NoError(t, os.WriteFile(secretPath, []byte("from-file"), 0o600))

	out, err := execute(t, "", "--format", "json", "--passphrase-env", "OPS_PASS",
		"seal", "--secret-file", secretPath, "--out", blobPath)
	require.NoError(t, err)

	var res SealResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, blobPath, res.Path)

	info, err := os.Stat(blobPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err = execute(t, "", "--format", "json", "--passphrase-env", "OPS_PASS", "verify", "--blob-file", blobPath)
	require.NoError(t, err)

	var vr VerifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &vr))
	assert.True(t, vr.Valid)
	assert.Equal(t, len("from-file"), vr.SecretLength)
}

func TestVerifyWrongPassphrase(t *testing.T) {
	blob, err := vault.Encrypt([]byte("wallet-secret"), "right")
	require.NoError(t, err)

	t.Setenv("VAULT_PASSPHRASE", "wrong")
	_, err = execute(t, "", "verify", blob)
	assert.ErrorIs(t, err, model.ErrDecryptionFailed)
}

func TestSealErrors(t *testing.T) {
	t.Setenv("VAULT_PASSPHRASE", "")
	_, err := execute(t, "secret", "seal")
	assert.ErrorIs(t, err, ErrMissingPassphrase)

	t.Setenv("VAULT_PASSPHRASE", "hunter2")
	_, err = execute(t, "\n", "seal")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestInvalidFormat(t *testing.T) {
	t.Setenv("VAULT_PASSPHRASE", "hunter2")
	_, err := execute(t, "secret", "--format", "yaml", "seal")
	assert.ErrorContains(t, err, "invalid format")
}
