// Package main provides vaultctl, the operator tool for sealing the delivery wallet credential.
package main

import (
	"fmt"
	"os"

	"github.com/jnst/asset-delivery-engine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
