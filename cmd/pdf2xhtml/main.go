// Package main is the entry point for the pdf2xhtml CLI.
package main

import (
	"os"

	"github.com/jmylchreest/pdf2xhtml/cmd/pdf2xhtml/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
