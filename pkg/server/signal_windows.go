//go:build windows

package server

import "os"

// notifyStatsSignal is a no-op: Windows has no SIGUSR1. Stats are available
// from the admin API instead.
func notifyStatsSignal(chan<- os.Signal) {}
