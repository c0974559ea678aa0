// Command svault runs the collateralized-minting vault against an in-process simulated
// ledger and staking pool, and serves its HTTP API.
//
// Usage:
//
//	svault --config config.yaml
//	svault --setup            (interactive wizard, writes config.gen.yaml)
//	svault                    (built-in simulation defaults)
//
// SVAULT_DATA_DIR overrides the data directory from the config.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/config"
	"github.com/vadiminshakov/svault/internal/app"
	"github.com/vadiminshakov/svault/internal/setup"
)

func main() {
	flags := config.ParseFlags()
	if flags.Setup {
		path, err := setup.RunTUI()
		if err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = path
	}

	cfg, err := config.Get(flags.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon, err := app.New(ctx, logger, cfg, nil)
	if err != nil {
		logger.Fatal("failed to start vault", zap.Error(err))
	}
	defer func() {
		if err := daemon.Close(); err != nil {
			logger.Error("failed to close vault", zap.Error(err))
		}
	}()

	if err := daemon.Run(ctx); err != nil {
		logger.Error("vault stopped with error", zap.Error(err))
		return
	}
	logger.Info("vault stopped")
}
