// Package main provides the entry point for the neuralsearchctl CLI.
package main

import (
	"os"

	"github.com/opensearch-project/neural-search-sub002/cmd/neuralsearchctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
