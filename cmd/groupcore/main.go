package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shugur-network/groupcore/internal/config"
	"github.com/shugur-network/groupcore/internal/logger"
	"go.uber.org/zap"
)

// These variables are set at build time via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	config.SetVersion(version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		sig := <-signals
		logger.Info("received termination signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	Execute(ctx)
}

// buildInfo is surfaced by the "version" subcommand.
func buildInfo() (v, c, d string) {
	return version, commit, date
}
