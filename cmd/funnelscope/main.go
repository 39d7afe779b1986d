package main

import (
	"os"

	"github.com/funnelscope/funnelscope/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
