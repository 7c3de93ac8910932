// Package main is the entrypoint for the querio CLI.
// The CLI advises on SQL queries and runs diagnostics against the
// configured plan source and audit store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/canonica-labs/querio/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.New().Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
