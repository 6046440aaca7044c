//go:build unix

package server

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// notifyStatsSignal routes SIGUSR1 to the event loop's stats dump
func notifyStatsSignal(c chan<- os.Signal) {
	signal.Notify(c, unix.SIGUSR1)
}
