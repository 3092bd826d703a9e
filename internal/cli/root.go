// Package cli implements the vaultctl operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format        string // "json" | "text"
	PassphraseEnv string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for vaultctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "vaultctl",
		Short: "Seal and verify the delivery wallet credential",
		Long: `vaultctl produces and checks the encrypted credential blob the delivery engine loads at startup.

The passphrase is always read from an environment variable so it never appears in shell history.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.PassphraseEnv, "passphrase-env", "VAULT_PASSPHRASE",
		"environment variable holding the passphrase")

	cmd.AddCommand(NewSealCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}

func writeOutput(w io.Writer, format string, text string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	_, err := fmt.Fprintln(w, text)
	return err
}
