//go:build windows

package daemon

import (
	"os"
	"syscall"
)

// Windows has no user signals; use `peerlink pause` and `peerlink resume`.
func lifecycleSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

func isBackground(os.Signal) bool { return false }

func isForeground(os.Signal) bool { return false }
