package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alem-hub/alem-gamification/config"
	"github.com/alem-hub/alem-gamification/internal/application/command"
	"github.com/alem-hub/alem-gamification/internal/application/query"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name:            "alem-gamification",
			Environment:     config.EnvDevelopment,
			Version:         "test",
			Timezone:        "UTC",
			Location:        time.UTC,
			Storage:         config.StorageMemory,
			ShutdownTimeout: time.Second,
		},
		Redis: config.RedisConfig{Disabled: true},
		Engine: config.EngineConfig{
			MaxAttempts:         3,
			CycleConcurrency:    2,
			CyclePageSize:       10,
			CycleLockTTL:        time.Minute,
			LeaderboardCacheTTL: time.Minute,
		},
		Scheduler: config.SchedulerConfig{
			Enabled:             true,
			WeeklyCycleCron:     "0 0 * * 1",
			LeaderboardInterval: time.Minute,
			JobTimeout:          time.Minute,
		},
		Features: config.NewFeatureFlags(),
	}
}

func TestNew_MemoryStorage(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, memoryConfig(), logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 10, a.Catalog.Tiers.Len())

	res, err := a.Commands.CreditPoints.Handle(ctx, command.CreditPointsCommand{
		UserID:  "alice",
		ItemKey: "task:1",
		Amount:  100,
	})
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.GreaterOrEqual(t, res.State.TotalPoints, int64(100))

	again, err := a.Commands.CreditPoints.Handle(ctx, command.CreditPointsCommand{
		UserID:  "alice",
		ItemKey: "task:1",
		Amount:  100,
	})
	require.NoError(t, err)
	assert.False(t, again.Credited)
	assert.Equal(t, res.State.TotalPoints, again.State.TotalPoints)

	board, err := a.Queries.GetLeaderboard.Handle(ctx, query.GetLeaderboardQuery{})
	require.NoError(t, err)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "alice", board.Entries[0].UserID)

	health := a.Health.Check(ctx)
	assert.True(t, health.Healthy)
}

func TestNew_BadCatalogPath(t *testing.T) {
	cfg := memoryConfig()
	cfg.App.CatalogPath = "/nonexistent/catalog.toml"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load catalog")
}

func TestNewJobs(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	jobs, err := a.NewJobs()
	require.NoError(t, err)

	names := make([]string, 0, 2)
	for _, info := range jobs.Scheduler.ListJobs() {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"weekly_cycle", "rebuild_leaderboard"}, names)

	result, err := jobs.Scheduler.RunNow(context.Background(), jobs.WeeklyCycle.Name())
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, jobs.WeeklyCycle.LastResult())
}

func TestNewJobs_NoLeaderboardWarmup(t *testing.T) {
	cfg := memoryConfig()
	cfg.Scheduler.LeaderboardInterval = 0

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	jobs, err := a.NewJobs()
	require.NoError(t, err)
	assert.Len(t, jobs.Scheduler.ListJobs(), 1)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestNew_WarnsAboutUnrecognizedAchievements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
version = 1
[[tiers]]
number = 1
name = "Only"
min_points = 0
group = "novice"

[[achievements]]
code = "mystery"
name = "Mystery"
requirement = { kind = "moon_phase", threshold = 1 }
`), 0o600))

	cfg := memoryConfig()
	cfg.App.CatalogPath = path

	core, logs := observer.New(zapcore.WarnLevel)
	a, err := New(context.Background(), cfg, logger.NewFromZap(zap.New(core)))
	require.NoError(t, err)
	defer a.Close()

	warned := logs.FilterMessage("achievement has unrecognized requirement and will never unlock").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "mystery", warned[0].ContextMap()["code"])
}
