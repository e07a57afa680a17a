// Command tagscope drives a single-photon time tagger: live count-rate
// views, coincidence-window sweeps, g2 captures and an HTTP API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
