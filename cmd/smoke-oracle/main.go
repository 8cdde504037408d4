// Package main provides the entry point for the smoke-oracle CLI.
package main

import (
	"os"

	"github.com/adam-jackson-cf/smoke-test-oracle/cmd/smoke-oracle/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
