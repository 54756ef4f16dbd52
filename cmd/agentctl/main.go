// Package main provides the entry point for the agentctl runtime agent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/cellrt/runtime-agent/cmd/agentctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
