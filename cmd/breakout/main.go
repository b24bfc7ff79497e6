package main

import (
	"os"
	_ "time/tzdata"

	"github.com/rustyeddy/breakout/cmd/breakout/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
