// Package main - точка входа HTTP API движка геймификации.
//
// API принимает события активности и зачисления очков, отдаёт профили,
// историю рангов и лидерборд, а также административные операции
// (корректировка баланса, ручной запуск недельного цикла).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/alem-gamification/config"
	"github.com/alem-hub/alem-gamification/internal/app"
	httpapi "github.com/alem-hub/alem-gamification/internal/interface/http"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting gamification API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("storage", string(cfg.App.Storage)),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. СБОРКА ДВИЖКА (хранилище, redis, шина событий, обработчики)
	// ─────────────────────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer application.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.AdminToken = cfg.HTTP.AdminToken
	serverCfg.Debug = cfg.App.Debug
	serverCfg.Version = cfg.App.Version

	if serverCfg.AdminToken == "" {
		log.Warn("HTTP_ADMIN_TOKEN is empty, admin endpoints are disabled")
	}

	server := httpapi.NewServer(serverCfg, application.HTTPDependencies())
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ВСТРОЕННЫЙ ПЛАНИРОВЩИК (для хранилища в памяти)
	// ─────────────────────────────────────────────────────────────────────────
	var jobSet *app.Jobs
	if cfg.Scheduler.Enabled && cfg.Scheduler.Embedded {
		jobSet, err = application.NewJobs()
		if err != nil {
			return err
		}
		if err := jobSet.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Info("scheduler embedded in API process")

		if cfg.Scheduler.RunCycleOnStart {
			go func() {
				if _, err := jobSet.Scheduler.RunNow(ctx, jobSet.WeeklyCycle.Name()); err != nil {
					log.Warn("catch-up weekly cycle did not complete", logger.Err(err))
				}
			}()
		}
	}

	log.Info("gamification API is running", logger.String("address", serverCfg.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return errors.New("http server stopped unexpectedly")
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Err(err))
	}
	if jobSet != nil {
		if err := jobSet.Scheduler.Stop(); err != nil {
			log.Error("scheduler stop failed", logger.Err(err))
		}
	}

	log.Info("shutdown completed successfully")
	return nil
}

// setupLogger настраивает zap: консольный формат для разработки, JSON иначе.
func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	opts.Development = cfg.Observability.LogFormat == "console"

	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("process", "api"),
	)
}
