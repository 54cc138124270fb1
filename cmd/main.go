package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/data"
	"github.com/aformenti/portfolio_earnings_bot/data/cache"
	"github.com/aformenti/portfolio_earnings_bot/data/repository"
	"github.com/aformenti/portfolio_earnings_bot/data/session"
	"github.com/aformenti/portfolio_earnings_bot/internal/externalApi/cloudStorageApi/googleDriveApi"
	"github.com/aformenti/portfolio_earnings_bot/internal/externalApi/fxApi"
	"github.com/aformenti/portfolio_earnings_bot/internal/externalApi/marketApi"
	"github.com/aformenti/portfolio_earnings_bot/internal/reportGenerator/xlsxGenerator"
	"github.com/aformenti/portfolio_earnings_bot/internal/scheduler"
	"github.com/aformenti/portfolio_earnings_bot/internal/service/portfolioService"
	"github.com/aformenti/portfolio_earnings_bot/internal/tgbot"
	"github.com/aformenti/portfolio_earnings_bot/internal/transport/telegram"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := repository.NewPostgres(cfg, pgClient)

	redisClient := data.NewRedisClient(cfg)
	defer redisClient.Close()

	redisCache := cache.NewRedisCache(redisClient, cfg)
	redisSession := session.NewRedisSession(redisClient, cfg)

	fxApiClient := fxApi.New(cfg)
	marketApiClient := marketApi.New(cfg)

	reportGenerator := xlsxGenerator.New()

	var cloudStorage portfolioService.CloudStorage
	if cfg.GoogleDrive.Enabled {
		cloudStorage = googleDriveApi.New(ctx, cfg)
	}

	portfolioSrv := portfolioService.New(cfg, pgRepo, redisCache, fxApiClient, marketApiClient, reportGenerator, cloudStorage)

	sched := scheduler.New()
	sched.NewIntervalJob("warm quotes cache", portfolioSrv.WarmQuotes, cfg.Jobs.WarmQuotesInterval, true)
	sched.Start()
	defer sched.Stop()

	tgController := telegram.NewController(cfg, portfolioSrv, redisSession)

	tgBot := tgbot.New(cfg, tgController, redisSession)
	tgBot.Start()
	defer tgBot.Stop()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
