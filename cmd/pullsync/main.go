package main

import (
	"os"

	"github.com/dl-alexandre/pullsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
