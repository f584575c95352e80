// Command agentrelay runs the relay: an HTTP service (serve), an
// interactive terminal session (chat) and a reachability check of the
// configured agents (agents).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}
