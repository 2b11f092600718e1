// The main package for the reports executable.
package main

import (
	"github.com/JakeFAU/report-archive-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
