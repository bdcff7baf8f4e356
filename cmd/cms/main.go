// Command cms runs the esport CMS server and manages its modules.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Guillaume29200/esport-cms/internal/cli"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersion(fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date))
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
