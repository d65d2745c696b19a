package main

import (
	"os"

	"github.com/webshell/broker/cmd/webshell-agent/app"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
