package backuppcfs

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context derived from parent which is
// canceled when the program is interrupted (i.e. receiving SIGINT or
// SIGTERM). CLI collaborators use this to unmount a FUSE mount or close
// pool handles cleanly on Ctrl-C.
func InterruptibleContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(parent)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			// Subsequent signals will result in immediate termination, which
			// is useful in case cleanup hangs:
			signal.Stop(sig)
			canc()
		case <-ctx.Done():
			signal.Stop(sig)
		}
	}()
	return ctx, canc
}
