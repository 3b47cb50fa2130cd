package main

import (
	"os"

	"github.com/armadaproject/firehose/cmd/firehose/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
