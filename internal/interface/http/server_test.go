package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-gamification/config"
	"github.com/alem-hub/alem-gamification/internal/application/command"
	"github.com/alem-hub/alem-gamification/internal/application/query"
	"github.com/alem-hub/alem-gamification/internal/domain/achievement"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/alem-gamification/internal/interface/http/handlers"
	"github.com/alem-hub/alem-gamification/pkg/timeutil"
)

const adminToken = "s3cret"

type testServer struct {
	repo     *memory.UserRankRepository
	features *config.FeatureFlags
	health   *handlers.CompositeHealthChecker
	server   *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tiers := rank.MustTierTable([]rank.RankTier{
		{Number: 1, Name: "Newcomer", MinPoints: 0, MaxPoints: 100, Group: rank.GroupNovice},
		{Number: 2, Name: "Learner", MinPoints: 100, MaxPoints: 300, Group: rank.GroupIntermediate},
		{Number: 3, Name: "Adept", MinPoints: 300, Group: rank.GroupAdvanced},
	})
	catalog, err := achievement.NewCatalog([]achievement.Definition{
		{Code: "points_100", Name: "Hundred", Requirement: achievement.TotalPoints{Min: 100}},
	})
	require.NoError(t, err)

	repo := memory.NewUserRankRepository()
	achievements := memory.NewAchievementRepository(catalog)
	clock := &timeutil.FixedClock{T: time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)}

	uow := command.NewUnitOfWork(repo, nil, clock, nil, command.UnitOfWorkConfig{GraceImmunity: 2, MaxAttempts: 3})
	engine := command.NewEngine(rank.NewStateMachine(tiers), achievements, timeutil.UTCCalendar(), nil)
	policy := rank.NewFloorPolicy(map[rank.TierGroup]int64{rank.GroupIntermediate: 50}, 0)

	ts := &testServer{
		repo:     repo,
		features: config.NewFeatureFlags(),
		health:   handlers.NewCompositeHealthChecker("test"),
	}
	cfg := DefaultConfig()
	cfg.AdminToken = adminToken
	cfg.RateLimitPerMinute = 0

	ts.server = NewServer(cfg, Dependencies{
		GetLeaderboard:  query.NewGetLeaderboardHandler(repo, nil, time.Minute, clock, nil),
		GetProfile:      query.NewGetProfileHandler(repo, repo, achievements, tiers, nil),
		ListRankHistory: query.NewListRankHistoryHandler(repo),
		RecordActivity:  command.NewRecordActivityHandler(uow, engine, nil),
		CreditPoints:    command.NewCreditPointsHandler(uow, engine),
		AdjustPoints:    command.NewAdjustPointsHandler(uow, engine, nil),
		WeeklyCycle: command.NewRunWeeklyCycleHandler(uow, engine, repo,
			memory.NewCycleLock(), memory.NewCycleLedger(), policy, nil, nil, command.DefaultWeeklyCycleConfig()),
		Features: ts.features,
		Health:   ts.health,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func activityBody(userID, item string, points int64) map[string]any {
	return map[string]any{
		"user_id":     userID,
		"kind":        "chapter-complete",
		"course_id":   "go-101",
		"item_id":     item,
		"points":      points,
		"occurred_at": "2026-03-11T09:00:00Z",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(handlers.HeaderRequestID))

	ts.health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	status := decode[handlers.HealthStatus](t, rec)
	assert.False(t, status.Healthy)
	assert.Equal(t, "connection refused", status.Checks["postgres"].Message)

	rec = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/live", nil, handlers.HeaderRequestID, "req-42")
	assert.Equal(t, "req-42", rec.Header().Get(handlers.HeaderRequestID))
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[handlers.ErrorBody](t, rec).Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY & POINTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordActivity_CreditsOnce(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/activity", activityBody("u-1", "ch-1", 120))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	first := decode[RecordActivityResponse](t, rec)
	assert.True(t, first.Credited)
	assert.Equal(t, "chapter:go-101:ch-1", first.ItemKey)
	assert.Equal(t, int64(120), first.State.TotalPoints)
	assert.Equal(t, 2, first.State.CurrentTier)
	assert.Equal(t, []string{"points_100"}, first.Unlocked)
	require.Len(t, first.RankChanges, 1)
	assert.Equal(t, "promotion", first.RankChanges[0].Reason)
	assert.True(t, first.RankChanges[0].Promotion)

	rec = ts.do(t, http.MethodPost, "/api/v1/activity", activityBody("u-1", "ch-1", 120))
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode[RecordActivityResponse](t, rec)
	assert.False(t, replay.Credited)
	assert.Equal(t, int64(120), replay.State.TotalPoints)
	assert.Empty(t, replay.Unlocked)
}

func TestRecordActivity_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/activity", map[string]any{"kind": "chapter-complete"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := activityBody("u-1", "ch-1", 10)
	body["kind"] = "lecture"
	rec = ts.do(t, http.MethodPost, "/api/v1/activity", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[handlers.ErrorBody](t, rec).Error.Code)
}

func TestRecordActivity_MissingPointsConfiguration(t *testing.T) {
	ts := newTestServer(t)

	body := activityBody("u-1", "ch-1", 0)
	delete(body, "points")
	rec := ts.do(t, http.MethodPost, "/api/v1/activity", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "configuration_error", decode[handlers.ErrorBody](t, rec).Error.Code)

	body["course"] = map[string]any{"total_points": 100, "gradable_items": 4}
	rec = ts.do(t, http.MethodPost, "/api/v1/activity", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(25), decode[RecordActivityResponse](t, rec).Amount)
}

func TestCreditPoints_NegativeAmount(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/points", map[string]any{
		"user_id": "u-1", "item_key": "bonus:1", "amount": -5,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE & LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func TestGetProfile(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/activity", activityBody("u-1", "ch-1", 150)).Code)

	rec := ts.do(t, http.MethodGet, "/api/v1/users/u-1/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decode[query.ProfileResult](t, rec)
	assert.Equal(t, int64(150), profile.TotalPoints)
	assert.Equal(t, "Learner", profile.Tier.Name)
	assert.Len(t, profile.Achievements, 1)

	require.NoError(t, ts.features.DisableFeature(config.FeatureProfileAchievements))
	rec = ts.do(t, http.MethodGet, "/api/v1/users/u-1/profile", nil)
	assert.Empty(t, decode[query.ProfileResult](t, rec).Achievements)

	rec = ts.do(t, http.MethodGet, "/api/v1/users/ghost/profile", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/users/u-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"promotion"`)
}

func TestGetLeaderboard(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.Put(rank.RestoreUserRankState(rank.UserRankState{UserID: "b", DisplayName: "Anna", TotalPoints: 500, CurrentTier: 3}, nil, nil))
	ts.repo.Put(rank.RestoreUserRankState(rank.UserRankState{UserID: "a", DisplayName: "JOANNA", TotalPoints: 500, CurrentTier: 3}, nil, nil))
	ts.repo.Put(rank.RestoreUserRankState(rank.UserRankState{UserID: "c", DisplayName: "Boris", TotalPoints: 900, CurrentTier: 3}, nil, nil))

	rec := ts.do(t, http.MethodGet, "/api/v1/leaderboard?search=ann&user_id=c", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[query.GetLeaderboardResult](t, rec)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "a", res.Entries[0].UserID)
	assert.Equal(t, 1, res.Entries[0].Rank)
	assert.Equal(t, "b", res.Entries[1].UserID)
	assert.Equal(t, 2, res.TotalCount)
	require.NotNil(t, res.Me)
	assert.Equal(t, "c", res.Me.UserID)

	rec = ts.do(t, http.MethodGet, "/api/v1/leaderboard?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/leaderboard?period=monthly", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, ts.features.DisableFeature(config.FeatureLeaderboardSearch))
	rec = ts.do(t, http.MethodGet, "/api/v1/leaderboard?search=ann", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/leaderboard?search=ann", nil, handlers.HeaderAdminKey, adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

func TestAdjustPoints(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/activity", activityBody("u-1", "ch-1", 350)).Code)

	body := map[string]any{"new_total": 50, "note": "fraud cleanup"}

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/users/u-1/adjust", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/users/u-1/adjust", body, "Authorization", "Bearer "+adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[AdjustPointsResponse](t, rec)
	assert.Equal(t, int64(350), res.PreviousTotal)
	assert.Equal(t, int64(50), res.State.TotalPoints)
	assert.Equal(t, 1, res.State.CurrentTier)

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/users/u-1/adjust",
		map[string]any{"new_total": 10}, handlers.HeaderAdminKey, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, ts.features.DisableFeature(config.FeatureAdminAdjustPoints))
	rec = ts.do(t, http.MethodPost, "/api/v1/admin/users/u-1/adjust", body, handlers.HeaderAdminKey, adminToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	ts := newTestServer(t)
	cfg := DefaultConfig()
	srv := NewServer(cfg, ts.server.deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/cycles", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunWeeklyCycle(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.Put(rank.RestoreUserRankState(rank.UserRankState{UserID: "u-1", TotalPoints: 200, WeeklyPoints: 10, CurrentTier: 2, HighestTierEverReached: 2}, nil, nil))

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/cycles", map[string]any{"cycle_key": "2026-W11"},
		handlers.HeaderAdminKey, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[CycleResponse](t, rec)
	assert.Equal(t, "2026-W11", res.CycleKey)
	assert.Equal(t, 1, res.Demoted)

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/cycles", map[string]any{"cycle_key": "2026-W11"},
		handlers.HeaderAdminKey, adminToken)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_processed", decode[handlers.ErrorBody](t, rec).Error.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/history", nil, handlers.HeaderAdminKey, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"demotion"`)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 2
	srv := NewServer(cfg, ts.server.deps)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
