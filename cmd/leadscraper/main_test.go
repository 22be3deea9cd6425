package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestShutdownContextStopIsSilent(t *testing.T) {
	var out syncBuffer
	sigs := make(chan os.Signal, 1)
	ctx, stop := shutdownContext(context.Background(), sigs, slog.New(slog.NewTextHandler(&out, nil)))

	stop()
	<-ctx.Done()
	if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
		t.Fatalf("cause = %v, want context.Canceled", cause)
	}

	// A signal arriving after stop must not be reported either.
	sigs <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	if strings.Contains(out.String(), "shutdown signal") {
		t.Fatalf("stop logged a signal: %s", out.String())
	}
}

func TestShutdownContextSignal(t *testing.T) {
	var out syncBuffer
	sigs := make(chan os.Signal, 1)
	ctx, stop := shutdownContext(context.Background(), sigs, slog.New(slog.NewTextHandler(&out, nil)))
	defer stop()

	sigs <- syscall.SIGTERM
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by signal")
	}
	if cause := context.Cause(ctx); !errors.Is(cause, errShutdownSignal) {
		t.Fatalf("cause = %v, want errShutdownSignal", cause)
	}
	if !strings.Contains(out.String(), "shutdown signal received") {
		t.Fatalf("signal not logged: %q", out.String())
	}
}
