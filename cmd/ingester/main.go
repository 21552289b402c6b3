package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/poc-paywall/internal/app/ingester"
	"github.com/magabrotheeeer/poc-paywall/internal/config"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.SetupLogger(cfg.Env)

	logger.Info("starting payment ingester", slog.String("env", cfg.Env), slog.String("queue", cfg.RabbitMQ.IngestQueue))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := ingester.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize ingester", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("ingester stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("payment ingester stopped gracefully")
}
