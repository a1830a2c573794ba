package main

import (
	"os"

	"github.com/rustyeddy/livetrader/cmd/livetrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
