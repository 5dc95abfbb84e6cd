//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals lists the signals that should trigger a graceful shutdown.
// SIGTERM is what systemd and kubernetes send on stop.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
