// The main package for the taskshell executable.
package main

import (
	"github.com/JakeFAU/taskshell/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
