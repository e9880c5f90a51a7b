// The main package for the seoaudit executable.
package main

import (
	"github.com/JakeFAU/seo-audit-machine/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
