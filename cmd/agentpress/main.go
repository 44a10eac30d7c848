// Command agentpress is the command-line entry point.
package main

import (
	"fmt"
	"os"

	"agentpress/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
