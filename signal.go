package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// exitInterrupted is the exit status after a forced second interrupt.
const exitInterrupted = 130

// shutdownContext returns a context that is canceled on the first SIGINT or
// SIGTERM. A second signal exits the process immediately. The returned stop
// function releases the signal handler and cancels the context.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	released := make(chan struct{})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(released)
			cancel()
		})
	}

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, finishing in-flight uploads",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(exitInterrupted)
		case <-released:
		case <-parent.Done():
		}
	}()

	return ctx, stop
}
