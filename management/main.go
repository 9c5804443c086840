package main

import (
	"os"

	"github.com/kivyx/ota/management/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitSetupFailed)
	}
}
