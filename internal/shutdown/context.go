package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptContext returns a context cancelled when one of sigs arrives, or
// on SIGINT and SIGTERM when sigs is empty. The returned cancel stops the
// signal relay.
func InterruptContext(ctx context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return signal.NotifyContext(ctx, sigs...)
}
