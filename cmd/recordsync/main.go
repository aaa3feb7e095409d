// Package main provides the entry point for the recordsync CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/recordsync/cmd/recordsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
