//go:build windows

package download

import "os"

func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
