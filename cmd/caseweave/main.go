// Command caseweave is the case evidence platform CLI: it ingests
// evidence, serves the MCP tool surface, and manages indexes and
// research runs.
package main

import (
	"fmt"
	"os"

	"github.com/caseweave/caseweave/cmd/caseweave/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
