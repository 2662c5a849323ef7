// Package main is the entry point for the provisioner server.
package main

import (
	"os"

	"github.com/indexhub/provisioner/cmd/provisioner/app"
	"github.com/indexhub/provisioner/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
