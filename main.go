package main

import (
	"os"

	"github.com/tierfetch/tierfetch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
