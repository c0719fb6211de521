//go:build !windows

package download

import (
	"os"
	"syscall"
)

// terminate asks the process to exit, killing it if the signal cannot be delivered.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return p.Kill()
	}
	return nil
}
