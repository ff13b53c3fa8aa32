// Command gateway runs the AGV fleet TCP gateway: the reactor-based
// server, its admin API, and its operator dashboard feed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lsk225456/agv-gateway/internal/config"
	"github.com/lsk225456/agv-gateway/internal/gateway"
	"github.com/lsk225456/agv-gateway/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync()

	srv, err := gateway.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build gateway", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.SessionTimeout)
		defer shutdownCancel()
		srv.Stop(shutdownCtx)
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Error("gateway exited with error", zap.Error(err))
		return 1
	}
	return 0
}
