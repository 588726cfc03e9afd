package main

import (
	"github.com/xkilldash9x/tracesmith/cmd"
)

// main is the entry point for the tracesmith CLI. All command-line parsing,
// configuration and execution lives in the cmd package.
func main() {
	cmd.Execute()
}
