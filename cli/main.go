package main

import (
	"os"

	"github.com/zipcase/zipcase/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
