package litani

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	interruptMu    sync.Mutex
	interruptHooks []func()
)

// OnInterrupt registers fn to run when the process receives SIGINT or
// SIGTERM, before the context returned by InterruptibleContext is
// canceled. run-build uses this so the reporter loop gets a chance to
// flush one last Run Snapshot (spec §4.6) instead of racing the
// executor's own context-cancellation teardown.
func OnInterrupt(fn func()) {
	interruptMu.Lock()
	defer interruptMu.Unlock()
	interruptHooks = append(interruptHooks, fn)
}

// InterruptibleContext returns a context which is canceled when the program is
// interrupted (i.e. receiving SIGINT or SIGTERM). Hooks registered via
// OnInterrupt run first, in registration order.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// Subsequent signals will result in immediate termination, which is
		// useful in case cleanup hangs:
		signal.Stop(sig)
		interruptMu.Lock()
		hooks := append([]func(){}, interruptHooks...)
		interruptMu.Unlock()
		for _, fn := range hooks {
			fn()
		}
		canc()
	}()
	return ctx, canc
}
