// Command boardctl is a terminal client for the board API.
package main

import (
	"os"

	"prism-board/boardctl/commands"
)

func main() {
	// errors are printed by the commands themselves
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
