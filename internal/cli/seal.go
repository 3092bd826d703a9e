package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jnst/asset-delivery-engine/internal/vault"
)

// ErrEmptySecret is returned when there is nothing to seal.
var ErrEmptySecret = errors.New("secret is empty")

// ErrMissingPassphrase is returned when the passphrase variable is unset or empty.
var ErrMissingPassphrase = errors.New("passphrase environment variable is empty")

// SealResult is the JSON output of seal.
type SealResult struct {
	Blob string `json:"blob"`
	Path string `json:"path,omitempty"`
}

// NewSealCommand creates the seal command.
func NewSealCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		secretFile string
		outFile    string
	)

	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a wallet secret into an encrypted blob",
		Long: `Encrypt the wallet secret read from stdin (or --secret-file) with a key derived from the passphrase.

The output is base64(salt || iv || tag || ciphertext), suitable for VAULT_BLOB or VAULT_BLOB_FILE.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeal(rootOpts, cmd, secretFile, outFile)
		},
	}

	cmd.Flags().StringVar(&secretFile, "secret-file", "", "read the secret from this file instead of stdin")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the blob to this file (mode 0600)")

	return cmd
}

func runSeal(opts *RootOptions, cmd *cobra.Command, secretFile, outFile string) error {
	passphrase, err := passphraseFrom(opts.PassphraseEnv)
	if err != nil {
		return err
	}

	var secret []byte
	if secretFile != "" {
		secret, err = os.ReadFile(secretFile)
	} else {
		secret, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read secret: %w", err)
	}
	secret = bytes.TrimRight(secret, "\r\n")
	defer clear(secret)

	if len(secret) == 0 {
		return ErrEmptySecret
	}

	blob, err := vault.Encrypt(secret, passphrase)
	if err != nil {
		return err
	}

	if outFile != "" {
		if err := os.WriteFile(outFile, []byte(blob+"\n"), 0o600); err != nil {
			return fmt.Errorf("failed to write blob: %w", err)
		}
		return writeOutput(cmd.OutOrStdout(), opts.Format, "sealed credential written to "+outFile,
			SealResult{Blob: blob, Path: outFile})
	}

	return writeOutput(cmd.OutOrStdout(), opts.Format, blob, SealResult{Blob: blob})
}

func passphraseFrom(envName string) (string, error) {
	p := os.Getenv(envName)
	if p == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingPassphrase, envName)
	}

	return p, nil
}
