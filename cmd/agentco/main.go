package main

import (
	"os"

	"github.com/mushimuro/agent-company/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
