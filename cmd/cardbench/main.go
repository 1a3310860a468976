package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kasuganosora/cardbench/cmd/cardbench/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.RootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
