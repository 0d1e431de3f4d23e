// The main package for the polmsg executable.
package main

import (
	"github.com/JakeFAU/polmsg-collector/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
