// Package main is the entry point for the sluice application.
package main

import (
	"os"

	"github.com/sluicedev/sluice/cmd/sluice/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
