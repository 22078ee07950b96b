package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context derived from parent that is cancelled
// on SIGINT or SIGTERM. stop releases the signal registration.
func SetupSignalHandler(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// WaitForShutdown returns a channel that receives SIGINT or SIGTERM.
func WaitForShutdown() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	return sigChan
}
