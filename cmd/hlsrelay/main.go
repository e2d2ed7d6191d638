// Package main is the entry point for the hlsrelay application.
package main

import (
	"os"

	"github.com/patchbay-io/hlsrelay/cmd/hlsrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
