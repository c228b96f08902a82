package main

import (
	"fmt"
	"os"

	// Embedded zone database so configured timezones resolve on minimal hosts.
	_ "time/tzdata"

	"github.com/rahul/hitobot/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[91m[ FAIL ] %v\033[0m\n", err)
		os.Exit(1)
	}
}
