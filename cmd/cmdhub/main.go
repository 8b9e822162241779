// Command cmdhub validates tool calls from untrusted agents through a
// tiered speed-layer dispatcher, folds accepted commands into an
// append-only event log, and mounts a POSIX-shaped inspection surface
// over the resulting project state.
package main

import (
	"fmt"
	"os"

	"github.com/cmdhub/cmdhub/cmd/cmdhub/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
