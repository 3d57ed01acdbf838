package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/posaune0423/tor-selenium-x/cmd"
	"github.com/posaune0423/tor-selenium-x/internal/observability"
)

func main() {
	// Cancel on SIGINT/SIGTERM so the proxy process and browser are torn
	// down instead of orphaned.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		os.Exit(1)
	}
}
