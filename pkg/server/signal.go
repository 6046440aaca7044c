package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nebari-dev/portserver/pkg/logger"
)

// SetupSignalHandling cancels ctx on SIGINT or SIGTERM so Run shuts down
// gracefully. A second signal forces an immediate exit.
func SetupSignalHandling(cancel context.CancelFunc, log *logger.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("received signal, initiating graceful shutdown (press Ctrl+C again to force quit)", "signal", sig)
		cancel()

		sig = <-sigChan
		log.Warn("received second signal, forcing immediate exit", "signal", sig)
		os.Exit(1)
	}()
}

func stopNotify(c chan<- os.Signal) {
	signal.Stop(c)
}
