// Package main is the entry point for the framecut application.
package main

import (
	"os"

	"github.com/jmylchreest/framecut/cmd/framecut/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
