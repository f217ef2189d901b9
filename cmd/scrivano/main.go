// Package main provides the entry point for the scrivano CLI.
package main

import (
	"os"

	"github.com/scrivano/scrivano/cmd/scrivano/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
