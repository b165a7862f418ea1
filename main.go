// The main package for the quake-ingest executable.
package main

import (
	"github.com/veritatis/quake-ingest/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
