package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hydranotes/hydra/pkg/hydra"
)

func main() {
	// Cancelled on SIGINT or SIGTERM so the server can shut down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := hydra.Main(ctx, os.Args[1:], os.Stdout); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "hydra:", err)
		os.Exit(1)
	}
}
