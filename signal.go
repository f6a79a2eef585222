package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the conventional status for death by SIGINT.
const exitInterrupted = 130

// shutdownContext returns a context that ends on the first SIGINT or
// SIGTERM, letting a running upload stop before its next chunk. A second
// signal terminates the process.
func shutdownContext(parent context.Context) context.Context {
	ctx, stop := context.WithCancel(parent)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)

		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			fmt.Fprintf(os.Stderr, "%s: finishing the current request, interrupt again to abort\n", sig)
			stop()
		}

		<-signals
		os.Exit(exitInterrupted)
	}()

	return ctx
}
