package doctor

import (
	"os"

	"golang.org/x/term"

	"loopcap/shutdown"
)

// setupInterruptHandler restores the terminal and exits on interrupt. The
// returned func uninstalls the handler.
func setupInterruptHandler() func() {
	fd := int(os.Stdin.Fd())
	var state *term.State
	if term.IsTerminal(fd) {
		state, _ = term.GetState(fd)
	}

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigChan:
			if state != nil {
				term.Restore(fd, state)
			}
			println("\nInterrupted")
			os.Exit(1)
		case <-done:
		}
	}()
	return func() {
		shutdown.Stop(sigChan)
		close(done)
	}
}
