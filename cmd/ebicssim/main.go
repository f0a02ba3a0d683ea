// Command ebicssim runs an in-memory EBICS 2.5 host simulator: the far side
// of the protocol internal/ebics speaks as a client, for exercising the
// gateway against a bank that isn't a real bank.
package main

import (
	"fmt"
	"os"

	"github.com/nexusbank/gateway/cmd/ebicssim/cmd"
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
