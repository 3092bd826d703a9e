package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jnst/asset-delivery-engine/internal/vault"
)

// VerifyResult is the JSON output of verify. It never includes the secret.
type VerifyResult struct {
	Valid        bool `json:"valid"`
	SecretLength int  `json:"secret_length"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var blobFile string

	cmd := &cobra.Command{
		Use:   "verify [blob]",
		Short: "Check that an encrypted blob opens with the passphrase",
		Long: `Decrypt the blob given as an argument (or --blob-file) and report whether it opens.

The secret itself is never printed.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd, args, blobFile)
		},
	}

	cmd.Flags().StringVar(&blobFile, "blob-file", "", "read the blob from this file")

	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command, args []string, blobFile string) error {
	passphrase, err := passphraseFrom(opts.PassphraseEnv)
	if err != nil {
		return err
	}

	var blob string
	switch {
	case len(args) == 1:
		blob = args[0]
	case blobFile != "":
		data, err := os.ReadFile(blobFile)
		if err != nil {
			return fmt.Errorf("failed to read blob: %w", err)
		}
		blob = strings.TrimSpace(string(data))
	default:
		return fmt.Errorf("a blob argument or --blob-file is required")
	}

	cred, err := vault.Decrypt(blob, passphrase)
	if err != nil {
		return err
	}
	n := len(cred.Bytes())
	cred.Zero()

	return writeOutput(cmd.OutOrStdout(), opts.Format,
		fmt.Sprintf("ok: credential opens (%d bytes)", n),
		VerifyResult{Valid: true, SecretLength: n})
}
