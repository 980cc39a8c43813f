package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/noah-isme/gema-sync/internal/cmd/syncctl"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := syncctl.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "syncctl:", err)
		os.Exit(1)
	}
}
