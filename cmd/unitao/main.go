// Command unitao runs UniTAO data services and the inventory service.
package main

import (
	"os"

	"github.com/roach88/unitao/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
