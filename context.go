// Package parabuild provides a parallel parametric build-and-run
// orchestrator for single-file-driven native projects whose build product
// varies with a small set of template parameters.
package parabuild

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context which is canceled when the program
// is interrupted (i.e. receiving SIGINT or SIGTERM). A second signal bypasses
// the context and terminates the process immediately, which is useful in
// case an orchestrator run's cleanup/checkpoint hangs.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// Subsequent signals will result in immediate termination, which is
		// useful in case cleanup hangs:
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}
