// Command gatewayd runs the EBICS/ISO 20022 corporate banking gateway: a
// JSON HTTP API for managing bank connections and prepared payments, backed
// by a background scheduler that submits payments and ingests statements.
package main

import (
	"fmt"
	"os"

	"github.com/nexusbank/gateway/cmd/gatewayd/cmd"
)

func main() {
	rootCmd, err := cmd.NewRootCommand()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
