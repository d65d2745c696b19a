package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

const channelSize = 10

// setupSignal runs onShutdown exactly once, on the first SIGINT or SIGTERM.
func setupSignal(onShutdown func()) {
	sigCh := make(chan os.Signal, channelSize)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logrus.Infof("got %s, shutting down gracefully", sig)
		onShutdown()
	}()
}
