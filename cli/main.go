// Command ytingest ingests a YouTube channel's playlists and videos into a
// document store.
//
// Usage:
//
//	ytingest run --check-new [--related] [--debug]
//	ytingest run --related
//	ytingest validate
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
