// Package main provides the TUI entry point for watching a running
// lurecage instance.
package main

import (
	"flag"
	"fmt"
	"os"

	"lurecage/internal/tui"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		serverURL   string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.StringVar(&serverURL, "server", "http://localhost:8080", "lurecage server URL")
	flag.StringVar(&serverURL, "s", "http://localhost:8080", "lurecage server URL (shorthand)")
	flag.Parse()

	if showVersion {
		fmt.Printf("lurecage-watch %s\n", version)
		os.Exit(0)
	}

	fmt.Println("Starting lurecage watch...")
	fmt.Printf("Connecting to: %s\n", serverURL)

	if err := tui.Run(serverURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
