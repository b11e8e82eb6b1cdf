package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.App.Storage)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, "0 0 * * 1", cfg.Scheduler.WeeklyCycleCron)
	assert.False(t, cfg.Scheduler.RunCycleOnStart)
	assert.True(t, cfg.IsDevelopment())
	require.NotNil(t, cfg.Features)
}

func TestLoad_DatabaseURLFromParts(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("STORAGE", "postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "game")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://game:pw@db:5432/gamification?sslmode=disable", cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App: AppConfig{
				Environment: EnvDevelopment,
				Timezone:    "UTC",
				Location:    time.UTC,
				Storage:     StorageMemory,
			},
			HTTP:      HTTPConfig{Port: 8080},
			Engine:    EngineConfig{MaxAttempts: 3, CycleConcurrency: 2, CyclePageSize: 100},
			Scheduler: SchedulerConfig{Enabled: true, WeeklyCycleCron: "0 0 * * 1", LeaderboardInterval: time.Minute},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown timezone", func(c *Config) { c.App.Location = nil; c.App.Timezone = "Mars/Olympus" }, "APP_TIMEZONE"},
		{"memory in production", func(c *Config) { c.App.Environment = EnvProduction }, "STORAGE=memory"},
		{"postgres without url", func(c *Config) { c.App.Storage = StoragePostgres }, "DATABASE_URL"},
		{"unknown storage", func(c *Config) { c.App.Storage = "sqlite" }, "STORAGE must be"},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, "HTTP_PORT"},
		{"no attempts", func(c *Config) { c.Engine.MaxAttempts = 0 }, "ENGINE_MAX_ATTEMPTS"},
		{"bad cron", func(c *Config) { c.Scheduler.WeeklyCycleCron = "61 * * * *" }, "WEEKLY_CYCLE_CRON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("bad cron ignored when scheduler disabled", func(t *testing.T) {
		cfg := valid()
		cfg.Scheduler.Enabled = false
		cfg.Scheduler.WeeklyCycleCron = "nonsense"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadCatalog_Defaults(t *testing.T) {
	cat, err := LoadCatalog("")
	require.NoError(t, err)

	assert.Equal(t, 10, cat.Tiers.Len())
	assert.Equal(t, 11, cat.Achievements.Len())
	assert.Equal(t, 2, cat.GraceImmunity)
	assert.Empty(t, cat.Achievements.Unrecognized())

	assert.Equal(t, "Newcomer", cat.Tiers.Lookup(0).Name)
	assert.Equal(t, 10, cat.Tiers.Lookup(1_000_000).Number)

	legend, err := cat.Tiers.ByNumber(10)
	require.NoError(t, err)
	assert.Equal(t, int64(500), cat.Floors.FloorFor(legend))

	owl, ok := cat.Achievements.Get("night_owl")
	require.True(t, ok)
	assert.Equal(t, achievement.CompletionTimeInRange{FromHour: 22, ToHour: 5}, owl.Requirement)
	assert.Equal(t, rank.DefaultFloorPolicy().Floors(), cat.Floors.Floors())
}

func TestLoadCatalog_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte("grace_immunity = 5\n[floors]\nexpert = 400\n"), 0o600))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cat.GraceImmunity)
	assert.Equal(t, 10, cat.Tiers.Len())
	assert.Equal(t, int64(400), cat.Floors.Floors()[rank.GroupExpert])
	assert.Equal(t, int64(100), cat.Floors.Floors()[rank.GroupIntermediate])
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.True(t, shared.IsConfiguration(err))
}

func TestParseCatalog(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		cat, err := ParseCatalog([]byte(`
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
`))
		require.NoError(t, err)
		assert.Equal(t, 1, cat.Tiers.Len())
		require.Len(t, cat.Achievements.Unrecognized(), 1)
		assert.Equal(t, "mystery", cat.Achievements.Unrecognized()[0].Code)
	})

	t.Run("gap between tiers", func(t *testing.T) {
		_, err := ParseCatalog([]byte(`
version = 1
[[tiers]]
number = 1
name = "A"
min_points = 0
max_points = 100
group = "novice"
[[tiers]]
number = 2
name = "B"
min_points = 150
group = "novice"
`))
		require.Error(t, err)
		assert.True(t, shared.IsConfiguration(err))
	})

	t.Run("unsupported version", func(t *testing.T) {
		_, err := ParseCatalog([]byte("version = 2\n"))
		require.Error(t, err)
		assert.True(t, shared.IsConfiguration(err))
		assert.Contains(t, err.Error(), "version")
	})

	t.Run("negative floor", func(t *testing.T) {
		_, err := ParseCatalog([]byte(`
version = 1
[floors]
novice = -1
[[tiers]]
number = 1
name = "Only"
min_points = 0
group = "novice"
`))
		require.Error(t, err)
		assert.True(t, shared.IsConfiguration(err))
	})

	t.Run("malformed time window", func(t *testing.T) {
		_, err := ParseCatalog([]byte(`
version = 1
[[tiers]]
number = 1
name = "Only"
min_points = 0
group = "novice"
[[achievements]]
code = "late"
name = "Late"
requirement = { kind = "completion_time_in_range", from_hour = 30, to_hour = 2 }
`))
		require.Error(t, err)
		assert.True(t, shared.IsConfiguration(err))
	})
}

func TestFeatureFlags(t *testing.T) {
	t.Setenv("FEATURE_LEADERBOARD_SEARCH", "false")
	t.Setenv("FEATURE_ADMIN_ADJUST_POINTS", "0")

	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled(FeatureLeaderboardSearch, nil))
	assert.False(t, ff.IsEnabled(FeatureAdminAdjustPoints, &FeatureContext{UserID: "u-1"}))
	assert.True(t, ff.IsEnabled(FeatureAdminAdjustPoints, &FeatureContext{IsAdmin: true}))
	assert.True(t, ff.IsEnabled(FeatureRankHistoryStream, nil))
	assert.False(t, ff.IsEnabled("unknown.flag", nil))

	ff.SetUserOverride("u-1", FeatureLeaderboardSearch, true)
	assert.True(t, ff.IsEnabled(FeatureLeaderboardSearch, &FeatureContext{UserID: "u-1"}))
	assert.False(t, ff.IsEnabled(FeatureLeaderboardSearch, &FeatureContext{UserID: "u-2"}))

	assert.ErrorIs(t, ff.SetRolloutPercent("missing", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureRankHistoryStream, 101), ErrInvalidRolloutPercent)
}

func TestNewFeatureFlags_IndependentEntries(t *testing.T) {
	ff := NewFeatureFlags()
	require.Len(t, ff.All(), 5)

	require.NoError(t, ff.DisableFeature(FeatureLeaderboardSearch))
	assert.False(t, ff.IsEnabled(FeatureLeaderboardSearch, nil))
	assert.True(t, ff.IsEnabled(FeatureLeaderboardRequester, nil))
	assert.True(t, ff.IsEnabled(FeatureProfileAchievements, nil))

	names := make(map[string]bool)
	for _, f := range ff.All() {
		names[f.Name] = true
	}
	assert.Len(t, names, 5)
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureLeaderboardRequester, 50))

	ctx := &FeatureContext{UserID: "user-42"}
	first := ff.IsEnabled(FeatureLeaderboardRequester, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureLeaderboardRequester, ctx))
	}

	var on int
	for i := 0; i < 1000; i++ {
		if ff.IsEnabled(FeatureLeaderboardRequester, &FeatureContext{UserID: "user-" + strconv.Itoa(i)}) {
			on++
		}
	}
	assert.InDelta(t, 500, on, 100)
}
