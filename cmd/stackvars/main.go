package main

import (
	"os"

	"github.com/stackvars/stackvars/cmd/stackvars/cmds"
	"github.com/stackvars/stackvars/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.StackvarsVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
