// Command hygiene runs flowsheets through the solver hygiene pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/hygiene/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
