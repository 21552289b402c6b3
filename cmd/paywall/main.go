// Package main Paywall API
//
// @title           Paywall API
// @version         1.0
// @description     Приём платёжных уведомлений и проверка доступа подписчиков
//
// @host      localhost:8080
// @BasePath  /api/v1
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/poc-paywall/internal/app/paywall"
	"github.com/magabrotheeeer/poc-paywall/internal/config"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.SetupLogger(cfg.Env)

	logger.Info("starting paywall", slog.String("env", cfg.Env))
	logger.Debug("config loaded", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := paywall.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("paywall stopped gracefully")
}
