package main

import (
	"os"

	"github.com/moolen/hindsight/cmd/hindsight/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
