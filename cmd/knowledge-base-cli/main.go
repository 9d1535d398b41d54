// Package main provides the knowledge base CLI entrypoint.
package main

import (
	"os"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
