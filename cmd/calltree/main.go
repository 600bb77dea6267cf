// Command calltree inspects persisted call-tree stores.
package main

import (
	"os"

	"github.com/randalmurphal/calltree/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		cli.Report(cmd, err)
		os.Exit(cli.GetExitCode(err))
	}
}
