package main

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// installSignalCancel arranges for SIGINT/SIGTERM to set cancel, the same
// shared flag the engine/scheduler/remotesync check at every task
// boundary.
func installSignalCancel(cancel *atomic.Bool) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel.Store(true)
	}()
}
