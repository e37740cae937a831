// Package shutdown turns termination signals into context cancellation.
package shutdown

import (
	"context"
	"os"
)

// Context returns a context that is cancelled on the first interrupt. A second
// interrupt exits the process immediately with status 130.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	Notify(ch)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
			Stop(ch)
			return
		}
		<-ch
		os.Exit(130)
	}()
	return ctx, cancel
}
