// Command coldcapture captures every non-boot volume on a host to
// compressed, checksummed, resumable archives and optionally ships them to
// a remote collector.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coldcapture: %v\n", err)
		os.Exit(exitCode)
	}
	// A completed run with failed volumes returns no error but exits 1.
	if exitCode == 1 {
		os.Exit(exitCode)
	}
}
