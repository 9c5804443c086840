package main

import (
	"os"

	"github.com/kivyx/ota/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
