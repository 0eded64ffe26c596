package main

import (
	"os"

	"github.com/vostra/endura/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
