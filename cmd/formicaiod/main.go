// formicaiod supervises a fleet of peer-to-peer storage nodes running
// as local child processes: it creates and upgrades them, scrapes
// their metrics, tracks rewards balances and exposes an HTTP API plus
// an MCP tool surface for automation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
