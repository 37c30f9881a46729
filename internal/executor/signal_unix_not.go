//go:build !unix

package executor

import (
	"os"
)

const symlinkSupported = false

func terminate(p *os.Process) error {
	return p.Kill()
}

func signalOf(*os.ProcessState) (string, bool) {
	return "", false
}
