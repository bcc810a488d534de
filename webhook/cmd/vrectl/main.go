package main

import (
	"os"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
