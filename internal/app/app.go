// Package app собирает движок геймификации из конфигурации: хранилище,
// кеш, шину событий, обработчики команд и запросов. Используется обоими
// процессами (api и worker), чтобы они работали с одинаковой проводкой.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/alem-gamification/config"
	"github.com/alem-hub/alem-gamification/internal/application/command"
	"github.com/alem-hub/alem-gamification/internal/application/eventhandler"
	"github.com/alem-hub/alem-gamification/internal/application/query"
	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/infrastructure/messaging"
	"github.com/alem-hub/alem-gamification/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/alem-gamification/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/alem-gamification/internal/infrastructure/persistence/redis"
	httpapi "github.com/alem-hub/alem-gamification/internal/interface/http"
	"github.com/alem-hub/alem-gamification/internal/interface/http/handlers"
	"github.com/alem-hub/alem-gamification/pkg/logger"
	"github.com/alem-hub/alem-gamification/pkg/retry"
	"github.com/alem-hub/alem-gamification/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APP
// ══════════════════════════════════════════════════════════════════════════════

// Store - хранилище состояния, выбранное конфигурацией.
type Store interface {
	rank.UserRankRepository
	rank.RankHistoryRepository
	leaderboard.StandingsSource
}

// Commands - обработчики команд.
type Commands struct {
	RecordActivity *command.RecordActivityHandler
	CreditPoints   *command.CreditPointsHandler
	AdjustPoints   *command.AdjustPointsHandler
	WeeklyCycle    *command.RunWeeklyCycleHandler
}

// Queries - обработчики запросов.
type Queries struct {
	GetLeaderboard  *query.GetLeaderboardHandler
	GetProfile      *query.GetProfileHandler
	ListRankHistory *query.ListRankHistoryHandler
}

// App содержит собранные компоненты движка.
type App struct {
	Config  *config.Config
	Catalog *config.Catalog
	Log     *logger.Logger

	Store        Store
	Achievements achievement.Repository
	Cache        leaderboard.StandingsCache
	Lock         rank.CycleLock
	Ledger       rank.CycleLedger

	Bus        *messaging.InMemoryEventBus
	Dispatcher *messaging.Dispatcher

	Commands Commands
	Queries  Queries
	Health   *handlers.CompositeHealthChecker

	redis   *redis.Cache
	closers []func()
}

// New собирает приложение. При ошибке уже открытые соединения закрываются.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	a := &App{
		Config: cfg,
		Log:    log,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	// ─────────────────────────────────────────────────────────────────────────
	// 1. КАТАЛОГ (ранги, достижения, пороги)
	// ─────────────────────────────────────────────────────────────────────────
	catalog, err := config.LoadCatalog(cfg.App.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	a.Catalog = catalog
	a.Log.Info("catalog loaded",
		logger.Int("tiers", catalog.Tiers.Len()),
		logger.Int("achievements", catalog.Achievements.Len()),
		logger.Int("grace_immunity", catalog.GraceImmunity),
	)
	// Неизвестные условия никогда не выполняются, но о них стоит знать.
	for _, def := range catalog.Achievements.Unrecognized() {
		a.Log.Warn("achievement has unrecognized requirement and will never unlock",
			logger.String("code", def.Code),
			logger.String("requirement", def.Requirement.String()))
	}

	calendar, err := timeutil.NewCalendar(cfg.App.Timezone)
	if err != nil {
		return fmt.Errorf("calendar: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	switch cfg.App.Storage {
	case config.StoragePostgres:
		if err := a.openPostgres(ctx); err != nil {
			return err
		}
	default:
		a.Log.Warn("using in-memory storage, state is lost on restart")
		a.Store = memory.NewUserRankRepository()
		a.Achievements = memory.NewAchievementRepository(catalog.Achievements)
		a.Ledger = memory.NewCycleLedger()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (кеш лидерборда, блокировка цикла, поток истории)
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Redis.Disabled {
		if err := a.openRedis(); err != nil {
			a.Log.Warn("redis unavailable, falling back to in-process cache and lock", logger.Err(err))
		}
	}
	if a.redis == nil {
		a.Cache = memory.NewStandingsCache()
		a.Lock = memory.NewCycleLock()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ШИНА СОБЫТИЙ И ПОДПИСЧИКИ
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = a.Log
	a.Bus = messaging.NewInMemoryEventBus(busCfg)
	a.closers = append(a.closers, func() { _ = a.Bus.Close() })

	a.Dispatcher = messaging.NewDispatcher(messaging.DispatcherConfig{
		EventBus: a.Bus,
		Logger:   a.Log,
	})
	a.closers = append(a.closers, a.Dispatcher.Stop)
	if err := a.registerEventHandlers(); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. КОМАНДЫ И ЗАПРОСЫ
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.SystemClock{}

	uow := command.NewUnitOfWork(a.Store, a.Bus, clock, a.Log, command.UnitOfWorkConfig{
		GraceImmunity: catalog.GraceImmunity,
		MaxAttempts:   cfg.Engine.MaxAttempts,
	})
	engine := command.NewEngine(rank.NewStateMachine(catalog.Tiers), a.Achievements, calendar, a.Log)

	a.Commands = Commands{
		RecordActivity: command.NewRecordActivityHandler(uow, engine, a.Log),
		CreditPoints:   command.NewCreditPointsHandler(uow, engine),
		AdjustPoints:   command.NewAdjustPointsHandler(uow, engine, a.Log),
		WeeklyCycle: command.NewRunWeeklyCycleHandler(
			uow, engine, a.Store, a.Lock, a.Ledger, catalog.Floors, a.Bus, a.Log,
			command.WeeklyCycleConfig{
				Concurrency: cfg.Engine.CycleConcurrency,
				PageSize:    cfg.Engine.CyclePageSize,
				LockTTL:     cfg.Engine.CycleLockTTL,
			},
		),
	}

	a.Queries = Queries{
		GetLeaderboard:  query.NewGetLeaderboardHandler(a.Store, a.Cache, cfg.Engine.LeaderboardCacheTTL, clock, a.Log),
		GetProfile:      query.NewGetProfileHandler(a.Store, a.Store, a.Achievements, catalog.Tiers, a.Log),
		ListRankHistory: query.NewListRankHistoryHandler(a.Store),
	}

	return nil
}

func (a *App) openPostgres(ctx context.Context) error {
	cfg := a.Config.Database

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.URL
	pgCfg.MaxConns = int32(cfg.MaxConns)
	pgCfg.MinConns = int32(cfg.MinConns)
	pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	a.Log.Info("connecting to database...")
	var conn *postgres.Connection
	err := retry.DatabaseRetrier(func(attempt int, err error, delay time.Duration) {
		a.Log.Warn("database is not reachable yet",
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", delay),
			logger.Err(err))
	}).Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return retry.Retryable(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, conn.Close)
	a.Health.AddCheck("postgres", handlers.NewPingCheck(conn))

	if cfg.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		a.Log.Info("database schema is up to date")
	}

	achievements := postgres.NewAchievementRepository(conn)
	if err := achievements.Seed(ctx, a.Catalog.Achievements); err != nil {
		return fmt.Errorf("seed achievements: %w", err)
	}

	a.Store = postgres.NewUserRankRepository(conn)
	a.Achievements = achievements
	a.Ledger = postgres.NewCycleLedger(conn)
	return nil
}

func (a *App) openRedis() error {
	cfg := a.Config.Redis

	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Host
	redisCfg.Port = cfg.Port
	redisCfg.Password = cfg.Password
	redisCfg.DB = cfg.DB
	redisCfg.PoolSize = cfg.PoolSize
	redisCfg.MinIdleConns = cfg.MinIdleConns
	redisCfg.DialTimeout = cfg.DialTimeout
	redisCfg.ReadTimeout = cfg.ReadTimeout
	redisCfg.WriteTimeout = cfg.WriteTimeout

	cache, err := redis.NewCache(redisCfg)
	if err != nil {
		return err
	}
	a.redis = cache
	a.closers = append(a.closers, func() { _ = cache.Close() })
	a.Health.AddCheck("redis", handlers.NewPingCheck(cache))

	a.Cache = redis.NewStandingsCache(cache, redis.StandingsCacheConfig{}, a.Log)
	a.Lock = redis.NewCycleLock(cache, a.Log)
	a.Log.Info("redis connection established", logger.String("addr", redisCfg.Addr()))
	return nil
}

// registerEventHandlers подписывает обработчики на шину. Поток истории
// рангов включается флагом и требует redis.
func (a *App) registerEventHandlers() error {
	var stream eventhandler.RankHistoryStream
	if a.redis != nil && streamEnabled(a.Config.Features) {
		publisher, err := messaging.NewRedisPublisher(messaging.RedisPublisherConfig{
			Client: a.redis.Client(),
			Logger: a.Log,
		})
		if err != nil {
			return fmt.Errorf("rank history stream: %w", err)
		}
		stream = publisher
		a.Log.Info("rank history stream enabled", logger.String("channel", publisher.Channel()))
	}

	onRank := eventhandler.NewOnRankChangedHandler(stream, a.Cache, a.Catalog.Tiers, a.Log,
		eventhandler.DefaultRankChangedConfig())
	if err := a.Dispatcher.Register("on_rank_changed", onRank.Handle, onRank.EventTypes()...); err != nil {
		return err
	}

	pointsCfg := eventhandler.DefaultPointsChangedConfig()
	pointsCfg.MinInterval = a.Config.Engine.InvalidateInterval
	onPoints := eventhandler.NewOnPointsChangedHandler(a.Cache, timeutil.SystemClock{}, a.Log, pointsCfg)
	if err := a.Dispatcher.Register("on_points_changed", onPoints.Handle, onPoints.EventTypes()...); err != nil {
		return err
	}

	return a.Dispatcher.Start()
}

func streamEnabled(flags *config.FeatureFlags) bool {
	return flags == nil || flags.IsEnabled(config.FeatureRankHistoryStream, nil)
}

// HTTPDependencies возвращает зависимости для HTTP-сервера.
func (a *App) HTTPDependencies() httpapi.Dependencies {
	return httpapi.Dependencies{
		GetLeaderboard:  a.Queries.GetLeaderboard,
		GetProfile:      a.Queries.GetProfile,
		ListRankHistory: a.Queries.ListRankHistory,
		RecordActivity:  a.Commands.RecordActivity,
		CreditPoints:    a.Commands.CreditPoints,
		AdjustPoints:    a.Commands.AdjustPoints,
		WeeklyCycle:     a.Commands.WeeklyCycle,
		Features:        a.Config.Features,
		Health:          a.Health,
		Logger:          a.Log,
	}
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
