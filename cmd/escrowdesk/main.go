// Package main запускает HTTP-сервер, обновление курсов и Telegram-бот платформы.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/escrowdesk/internal/bot"
	"github.com/mmeshcher/escrowdesk/internal/config"
	"github.com/mmeshcher/escrowdesk/internal/handler"
	"github.com/mmeshcher/escrowdesk/internal/jobs"
	"github.com/mmeshcher/escrowdesk/internal/middleware"
	"github.com/mmeshcher/escrowdesk/internal/pricefeed"
	"github.com/mmeshcher/escrowdesk/internal/repository"
	"github.com/mmeshcher/escrowdesk/internal/service"
)

const shutdownTimeout = 5 * time.Second

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func newRepository(cfg *config.Config, logger *zap.Logger) (service.Repository, error) {
	if cfg.DatabaseURI == "" {
		logger.Warn("DATABASE_URI is not set, using in-memory storage")
		return repository.NewMemoryRepository(), nil
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI)
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := newRepository(cfg, logger)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	prices := pricefeed.NewClient(cfg.PriceAPIURL, cfg.PriceCurrency, logger)

	svc := service.NewService(repo, prices, logger)
	defer svc.Close()

	if cfg.FeeConfigFile != "" {
		seed, err := config.LoadFeeSeed(cfg.FeeConfigFile)
		if err != nil {
			sugar.Fatalw("fee config error", "error", err.Error())
		}
		if err := svc.SeedFeeConfig(context.Background(), seed); err != nil {
			sugar.Fatalw("fee config seed error", "error", err.Error())
		}
		sugar.Infow("fee config seeded", "file", cfg.FeeConfigFile, "keys", len(seed))
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	telegramLogin := middleware.NewTelegramLogin(cfg.TelegramBotToken, cfg.LoginMaxAge)
	if !telegramLogin.Enabled() {
		sugar.Warn("TELEGRAM_BOT_TOKEN is not set, web login disabled")
	}
	h := handler.NewHandler(svc, logger, authMiddleware, telegramLogin)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	scheduler := jobs.NewScheduler(prices, cfg.PriceRefreshSchedule, logger)
	g.Go(func() error {
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		<-ctx.Done()
		scheduler.Stop()
		return nil
	})

	if cfg.TelegramBotToken != "" {
		api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			sugar.Fatalw("telegram bot initialization error", "error", err.Error())
		}
		sugar.Infow("telegram bot authorized", "username", api.Self.UserName)

		tgBot := bot.New(api, svc, logger, cfg.BotMaxInflight)
		g.Go(func() error {
			return tgBot.Start(ctx)
		})
	} else {
		sugar.Info("TELEGRAM_BOT_TOKEN is not set, telegram bot disabled")
	}

	g.Go(func() error {
		sugar.Infow("starting escrowdesk server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Остановка сервера при сигнале или ошибке в другой горутине
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
