package main

import (
	"os"

	"github.com/hellmai/lumenflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
