package main

import (
	"os"

	"github.com/loomcloud/loom/cmd"
	"github.com/loomcloud/loom/internal/build"
)

// version is set at build time via -ldflags.
var version = "dev"

func init() {
	build.Version = version
}

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
