// Command ytextract resolves a playable audio stream for one YouTube video
// using the same fallback engine as the local backend.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
