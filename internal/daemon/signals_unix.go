//go:build !windows

package daemon

import (
	"os"
	"syscall"
)

// SIGUSR1 sends the daemon to the background (services stop), SIGUSR2
// brings it back.
func lifecycleSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2}
}

func isBackground(sig os.Signal) bool { return sig == syscall.SIGUSR1 }

func isForeground(sig os.Signal) bool { return sig == syscall.SIGUSR2 }
