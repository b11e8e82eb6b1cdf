// Package main - точка входа для фоновых процессов (Worker) движка геймификации.
//
// Worker отвечает за периодические задачи:
//   - Недельный цикл: понижение рангов ниже порога и сброс недельных очков
//   - Прогрев снапшота лидерборда в кеше
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/alem-gamification/config"
	"github.com/alem-hub/alem-gamification/internal/app"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
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
	if !cfg.Scheduler.Enabled {
		fmt.Fprintln(os.Stderr, "SCHEDULER_ENABLED=false, worker has nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting gamification worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("storage", string(cfg.App.Storage)),
		logger.String("timezone", cfg.App.Timezone),
	)

	if cfg.App.Storage == config.StorageMemory {
		log.Warn("worker with memory storage only sees its own state, run jobs embedded in the API instead")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. СБОРКА ДВИЖКА
	// ─────────────────────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer application.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. РЕГИСТРАЦИЯ ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	jobSet, err := application.NewJobs()
	if err != nil {
		return err
	}
	sched := jobSet.Scheduler

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ЗАПУСК ПЛАНИРОВЩИКА
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Пропущенный период догоняется при старте: повторный запуск цикла
	// для уже закрытой недели ничего не меняет.
	if cfg.Scheduler.RunCycleOnStart {
		if _, err := sched.RunNow(ctx, jobSet.WeeklyCycle.Name()); err != nil {
			log.Warn("catch-up weekly cycle did not complete", logger.Err(err))
		}
	}

	log.Info("gamification worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal, stopping scheduler...",
		logger.Duration("timeout", cfg.App.ShutdownTimeout))

	done := make(chan error, 1)
	go func() { done <- sched.Stop() }()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			log.Error("scheduler stop failed", logger.Err(err))
		}
	case <-shutdownCtx.Done():
		log.Warn("scheduler did not stop in time, abandoning running jobs")
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
		logger.String("process", "worker"),
	)
}
