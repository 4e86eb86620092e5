// Package main is the entry point for the rentbooks CLI.
package main

import (
	"os"

	"github.com/rentbooks/rentbooks/cmd/rentbooks/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
