package main

import (
	"fmt"
	"os"

	"github.com/open-power/pdbg/cmd/pdbg/cmds"
	"github.com/open-power/pdbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.PdbgVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
