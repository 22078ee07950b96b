package cli

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestSetupSignalHandler(t *testing.T) {
	ctx, stop := SetupSignalHandler(context.Background())
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before any signal")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSetupSignalHandler_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SetupSignalHandler(parent)
	defer stop()

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with its parent")
	}
}

func TestSetupSignalHandler_SIGTERM(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping signal test in short mode")
	}

	ctx, stop := SetupSignalHandler(context.Background())
	defer stop()

	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess() error = %v", err)
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		t.Skipf("cannot signal own process: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}

func TestWaitForShutdown(t *testing.T) {
	sigChan := WaitForShutdown()
	if sigChan == nil {
		t.Fatal("WaitForShutdown() returned nil channel")
	}

	select {
	case <-sigChan:
		t.Error("Signal channel should be empty initially")
	case <-time.After(10 * time.Millisecond):
	}
}
