// Package main is the entry point for multimail: the dispatch endpoint, the
// bulk send client and the local SMTP sink.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
