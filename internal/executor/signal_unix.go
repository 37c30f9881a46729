//go:build unix

package executor

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const symlinkSupported = true

// terminate asks the process to exit, it is killed after the kill delay.
func terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}

// signalOf returns the signal which terminated the process.
func signalOf(state *os.ProcessState) (string, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return "", false
	}
	return ws.Signal().String(), true
}
