// Package main provides the entry point for the Codeloom CLI.
package main

import (
	"fmt"
	"os"

	"github.com/codeloom-ai/codeloom-go/cmd/codeloom/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
