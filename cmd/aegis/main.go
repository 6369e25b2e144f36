package main

import (
	"fmt"
	"os"

	"github.com/aegisflow/aegis/cmd/aegis/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
