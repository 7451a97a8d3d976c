package main

import (
	"os"

	"github.com/scottag99/glowroot/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
