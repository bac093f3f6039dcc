// Command server runs the cardops HTTP API. It is equivalent to
// `cardops serve` and accepts the same flags.
package main

import (
	"fmt"
	"os"

	"cardops/internal/adapters/cli"
)

func main() {
	root := cli.NewRootCommand()
	root.SetArgs(append([]string{"serve"}, os.Args[1:]...))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
