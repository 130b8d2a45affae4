package main

import (
	"fmt"
	"os"

	"github.com/quarters-hq/quarters/cmd/quartersd/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
