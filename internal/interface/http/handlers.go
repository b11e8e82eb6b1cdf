package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/alem-gamification/config"
	"github.com/alem-hub/alem-gamification/internal/application/command"
	"github.com/alem-hub/alem-gamification/internal/application/query"
	"github.com/alem-hub/alem-gamification/internal/domain/activity"
	"github.com/alem-hub/alem-gamification/internal/domain/rank"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/internal/interface/http/handlers"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Health.Check(c.Request.Context())
	if !status.Healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleReady(c *gin.Context) {
	status := s.deps.Health.Check(c.Request.Context())
	if !status.Ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "message": status.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true, "uptime": s.Uptime().Round(time.Second).String()})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/leaderboard?period=weekly&search=ann&page=2&page_size=20&user_id=u-1
func (s *Server) handleGetLeaderboard(c *gin.Context) {
	if s.deps.GetLeaderboard == nil {
		s.notConfigured(c)
		return
	}

	page, ok := s.intParam(c, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := s.intParam(c, "page_size", 20)
	if !ok {
		return
	}

	requester := strings.TrimSpace(c.Query("user_id"))
	fc := s.featureContext(c, requester)

	q := query.GetLeaderboardQuery{
		Period:   c.DefaultQuery("period", "all_time"),
		Search:   c.Query("search"),
		Page:     page,
		PageSize: pageSize,
	}
	if q.Search != "" && !s.enabled(config.FeatureLeaderboardSearch, fc) {
		handlers.Abort(c, http.StatusForbidden, "feature_disabled", "leaderboard search is disabled")
		return
	}
	if requester != "" && s.enabled(config.FeatureLeaderboardRequester, fc) {
		q.RequesterID = requester
	}

	res, err := s.deps.GetLeaderboard.Handle(c.Request.Context(), q)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE & HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/users/:id/profile?history_limit=10
func (s *Server) handleGetProfile(c *gin.Context) {
	if s.deps.GetProfile == nil {
		s.notConfigured(c)
		return
	}
	limit, ok := s.intParam(c, "history_limit", 20)
	if !ok {
		return
	}

	userID := c.Param("id")
	res, err := s.deps.GetProfile.Handle(c.Request.Context(), query.GetProfileQuery{
		UserID:       userID,
		HistoryLimit: limit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !s.enabled(config.FeatureProfileAchievements, s.featureContext(c, userID)) {
		res.Achievements = []query.UnlockedAchievementDTO{}
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/v1/users/:id/history?limit=50
func (s *Server) handleGetUserHistory(c *gin.Context) {
	if s.deps.ListRankHistory == nil {
		s.notConfigured(c)
		return
	}
	limit, ok := s.intParam(c, "limit", 50)
	if !ok {
		return
	}

	entries, err := s.deps.ListRankHistory.Handle(c.Request.Context(), query.ListRankHistoryQuery{
		UserID: c.Param("id"),
		Limit:  limit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "entries": entries})
}

// GET /api/v1/admin/history?since=2026-01-01T00:00:00Z&limit=100
func (s *Server) handleGetHistoryFeed(c *gin.Context) {
	if s.deps.ListRankHistory == nil {
		s.notConfigured(c)
		return
	}
	limit, ok := s.intParam(c, "limit", 50)
	if !ok {
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			handlers.Abort(c, http.StatusBadRequest, "validation_error", "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	entries, err := s.deps.ListRankHistory.Handle(c.Request.Context(), query.ListRankHistoryQuery{
		Since: since,
		Limit: limit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY & POINTS
// ══════════════════════════════════════════════════════════════════════════════

// CoursePointsRequest is the per-course points configuration.
type CoursePointsRequest struct {
	TotalPoints   int64  `json:"total_points"`
	GradableItems int    `json:"gradable_items"`
	Difficulty    string `json:"difficulty"`
}

// RecordActivityRequest is the body of POST /api/v1/activity.
type RecordActivityRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Kind        string `json:"kind" binding:"required"`
	CourseID    string `json:"course_id"`
	ItemID      string `json:"item_id"`
	ItemKey     string `json:"item_key"`

	Points *int64               `json:"points"`
	Course *CoursePointsRequest `json:"course"`

	IsPerfectScore bool      `json:"is_perfect_score"`
	HadSpeedBonus  bool      `json:"had_speed_bonus"`
	OccurredAt     time.Time `json:"occurred_at"`

	PerfectScoreCount     int `json:"perfect_score_count"`
	SpeedBonusCount       int `json:"speed_bonus_count"`
	CoursesCompletedCount int `json:"courses_completed_count"`
}

func (r RecordActivityRequest) toEvent() activity.Event {
	ev := activity.Event{
		UserID:                strings.TrimSpace(r.UserID),
		DisplayName:           r.DisplayName,
		Kind:                  activity.Kind(r.Kind),
		CourseID:              r.CourseID,
		ItemID:                r.ItemID,
		ItemKey:               r.ItemKey,
		PointsEligible:        r.Points,
		IsPerfectScore:        r.IsPerfectScore,
		HadSpeedBonus:         r.HadSpeedBonus,
		OccurredAt:            r.OccurredAt,
		PerfectScoreCount:     r.PerfectScoreCount,
		SpeedBonusCount:       r.SpeedBonusCount,
		CoursesCompletedCount: r.CoursesCompletedCount,
	}
	if r.Course != nil {
		ev.Course = &activity.CoursePoints{
			TotalPoints:   r.Course.TotalPoints,
			GradableItems: r.Course.GradableItems,
			Difficulty:    activity.Difficulty(r.Course.Difficulty),
		}
	}
	return ev
}

// CreditPointsRequest is the body of POST /api/v1/points.
type CreditPointsRequest struct {
	UserID     string    `json:"user_id" binding:"required"`
	ItemKey    string    `json:"item_key" binding:"required"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StateResponse is the user's committed state after a write.
type StateResponse struct {
	UserID         string `json:"user_id"`
	TotalPoints    int64  `json:"total_points"`
	WeeklyPoints   int64  `json:"weekly_points"`
	CurrentTier    int    `json:"current_tier"`
	StreakDays     int    `json:"streak_days"`
	ImmunityCycles int    `json:"immunity_cycles"`
	Version        int64  `json:"version"`
}

// RankChangeResponse is one rank history entry created by a write.
type RankChangeResponse struct {
	ID        string    `json:"id"`
	OldTier   int       `json:"old_tier"`
	NewTier   int       `json:"new_tier"`
	Promotion bool      `json:"promotion"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// OutcomeResponse describes what a write did.
type OutcomeResponse struct {
	Credited    bool                 `json:"credited"`
	Streak      string               `json:"streak,omitempty"`
	RankChanges []RankChangeResponse `json:"rank_changes"`
	Unlocked    []string             `json:"unlocked"`
	State       StateResponse        `json:"state"`
}

// RecordActivityResponse is the reply to POST /api/v1/activity.
type RecordActivityResponse struct {
	OutcomeResponse
	ItemKey string `json:"item_key"`
	Amount  int64  `json:"amount"`
}

// AdjustPointsResponse is the reply to an admin correction.
type AdjustPointsResponse struct {
	OutcomeResponse
	PreviousTotal int64 `json:"previous_total"`
}

func outcomeResponse(o command.Outcome, st command.StateResult) OutcomeResponse {
	changes := make([]RankChangeResponse, 0, len(o.RankChanges))
	for _, h := range o.RankChanges {
		changes = append(changes, rankChangeResponse(h))
	}
	unlocked := o.Unlocked
	if unlocked == nil {
		unlocked = []string{}
	}
	return OutcomeResponse{
		Credited:    o.Credited,
		Streak:      string(o.Streak),
		RankChanges: changes,
		Unlocked:    unlocked,
		State: StateResponse{
			UserID:         st.UserID,
			TotalPoints:    st.TotalPoints,
			WeeklyPoints:   st.WeeklyPoints,
			CurrentTier:    st.CurrentTier,
			StreakDays:     st.StreakDays,
			ImmunityCycles: st.ImmunityCycles,
			Version:        st.Version,
		},
	}
}

func rankChangeResponse(h rank.RankHistoryEntry) RankChangeResponse {
	return RankChangeResponse{
		ID:        h.ID,
		OldTier:   h.OldTier,
		NewTier:   h.NewTier,
		Promotion: h.IsPromotion(),
		Reason:    string(h.Reason),
		Timestamp: h.Timestamp,
	}
}

// POST /api/v1/activity
func (s *Server) handleRecordActivity(c *gin.Context) {
	if s.deps.RecordActivity == nil {
		s.notConfigured(c)
		return
	}

	var req RecordActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.Abort(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	res, err := s.deps.RecordActivity.Handle(c.Request.Context(), command.RecordActivityCommand{
		Event:         req.toEvent(),
		CorrelationID: c.GetString(handlers.ContextKeyRequestID),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Credited {
		status = http.StatusCreated
	}
	c.JSON(status, RecordActivityResponse{
		OutcomeResponse: outcomeResponse(res.Outcome, res.State),
		ItemKey:         res.ItemKey,
		Amount:          res.Amount,
	})
}

// POST /api/v1/points
func (s *Server) handleCreditPoints(c *gin.Context) {
	if s.deps.CreditPoints == nil {
		s.notConfigured(c)
		return
	}

	var req CreditPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.Abort(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	res, err := s.deps.CreditPoints.Handle(c.Request.Context(), command.CreditPointsCommand{
		UserID:     strings.TrimSpace(req.UserID),
		ItemKey:    req.ItemKey,
		Amount:     req.Amount,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Credited {
		status = http.StatusCreated
	}
	c.JSON(status, outcomeResponse(res.Outcome, res.State))
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

// AdjustPointsRequest is the body of POST /api/v1/admin/users/:id/adjust.
type AdjustPointsRequest struct {
	NewTotal *int64 `json:"new_total" binding:"required"`
	Note     string `json:"note" binding:"required"`
}

// POST /api/v1/admin/users/:id/adjust
func (s *Server) handleAdjustPoints(c *gin.Context) {
	if s.deps.AdjustPoints == nil {
		s.notConfigured(c)
		return
	}

	adminID := c.GetHeader("X-Admin-ID")
	if adminID == "" {
		adminID = "admin"
	}
	if !s.enabled(config.FeatureAdminAdjustPoints, &config.FeatureContext{UserID: adminID}) {
		handlers.Abort(c, http.StatusForbidden, "feature_disabled", "admin adjustments are disabled")
		return
	}

	var req AdjustPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.Abort(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	res, err := s.deps.AdjustPoints.Handle(c.Request.Context(), command.AdjustPointsCommand{
		UserID:   c.Param("id"),
		NewTotal: *req.NewTotal,
		Note:     req.Note,
		AdminID:  adminID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AdjustPointsResponse{
		OutcomeResponse: outcomeResponse(res.Outcome, res.State),
		PreviousTotal:   res.PreviousTotal,
	})
}

// RunWeeklyCycleRequest is the optional body of POST /api/v1/admin/cycles.
type RunWeeklyCycleRequest struct {
	CycleKey string `json:"cycle_key"`
}

// CycleResponse summarizes a weekly cycle run.
type CycleResponse struct {
	CycleKey      string   `json:"cycle_key"`
	Processed     int      `json:"processed"`
	Demoted       int      `json:"demoted"`
	Protected     int      `json:"protected"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	FailedUserIDs []string `json:"failed_user_ids,omitempty"`
	Duration      string   `json:"duration"`
}

// POST /api/v1/admin/cycles
func (s *Server) handleRunWeeklyCycle(c *gin.Context) {
	if s.deps.WeeklyCycle == nil {
		s.notConfigured(c)
		return
	}

	var req RunWeeklyCycleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			handlers.Abort(c, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}

	res, err := s.deps.WeeklyCycle.Handle(c.Request.Context(), command.RunWeeklyCycleCommand{
		CycleKey: strings.TrimSpace(req.CycleKey),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CycleResponse{
		CycleKey:      res.CycleKey,
		Processed:     res.Processed,
		Demoted:       res.Demoted,
		Protected:     res.Protected,
		Skipped:       res.Skipped,
		Failed:        res.Failed,
		FailedUserIDs: res.FailedUserIDs,
		Duration:      res.Duration.Round(time.Millisecond).String(),
	})
}

// GET /api/v1/admin/features
func (s *Server) handleListFeatures(c *gin.Context) {
	if s.deps.Features == nil {
		c.JSON(http.StatusOK, gin.H{"features": []config.Feature{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": s.deps.Features.All()})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps domain error kinds to HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		s.logger.Error("request failed",
			logger.String("path", c.FullPath()),
			logger.String("request_id", c.GetString(handlers.ContextKeyRequestID)),
			logger.Err(err))
		handlers.Abort(c, status, code, http.StatusText(status))
		return
	}
	handlers.Abort(c, status, code, publicMessage(err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case shared.IsContention(err):
		return http.StatusConflict, "contention"
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case shared.IsConfiguration(err):
		return http.StatusUnprocessableEntity, "configuration_error"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case shared.IsExternalService(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// publicMessage prefers the domain message over the wrapped chain.
func publicMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

func (s *Server) notConfigured(c *gin.Context) {
	handlers.Abort(c, http.StatusNotImplemented, "not_configured", "endpoint is not configured")
}

// intParam reads an integer query parameter; it aborts with 400 on garbage.
func (s *Server) intParam(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		handlers.Abort(c, http.StatusBadRequest, "validation_error", key+" must be an integer")
		return 0, false
	}
	return v, true
}

func (s *Server) featureContext(c *gin.Context, userID string) *config.FeatureContext {
	return &config.FeatureContext{UserID: userID, IsAdmin: handlers.IsAdmin(c)}
}

func (s *Server) enabled(feature string, fc *config.FeatureContext) bool {
	if s.deps.Features == nil {
		return true
	}
	return s.deps.Features.IsEnabled(feature, fc)
}
