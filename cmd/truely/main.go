// File: cmd/truely/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/truelylabs/truely-cli/cmd"
)

// osExit allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0)
		}
		osExit(1)
	}
}
