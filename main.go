// The main package for the wayback-downloader executable.
package main

import (
	"github.com/JakeFAU/wayback-downloader/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
