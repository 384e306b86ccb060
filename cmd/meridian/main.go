// Package main provides the entry point for the meridian CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/meridian-data/meridian/cmd/meridian/cmd"
)

// Version information populated by the release build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, version, commit); err != nil {
		os.Exit(1)
	}
}
