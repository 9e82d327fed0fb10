//go:build windows

package cmd

import "os"

// gracefulSignals returns the OS signals that trigger a graceful stop.
// On Windows only os.Interrupt is reliably delivered; SIGTERM doesn't exist.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
