// Package main provides the entry point for the ragon CLI.
package main

import (
	"os"

	"github.com/ragon-ai/ragon/cmd/ragon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
