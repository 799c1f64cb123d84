package main

import (
	"os"

	"github.com/compozy/ragchain/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
