package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/leaderboard"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRefresher rebuilds and caches the leaderboard snapshot.
type LeaderboardRefresher interface {
	Refresh(ctx context.Context) (*leaderboard.Snapshot, error)
}

// RebuildLeaderboardJob keeps the cached snapshot warm so reads rarely pay
// for a full rebuild.
type RebuildLeaderboardJob struct {
	refresher LeaderboardRefresher
	logger    *logger.Logger
	config    RebuildLeaderboardConfig

	lastStats atomic.Pointer[RebuildStats]
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Timeout is the maximum duration for the rebuild operation.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		Timeout: time.Minute,
	}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	TotalUsers  int
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
func NewRebuildLeaderboardJob(refresher LeaderboardRefresher, log *logger.Logger, config RebuildLeaderboardConfig) *RebuildLeaderboardJob {
	if log == nil {
		log = logger.Nop()
	}
	return &RebuildLeaderboardJob{
		refresher: refresher,
		logger:    log.With(logger.String("job", "rebuild_leaderboard")),
		config:    config,
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the leaderboard snapshot and refreshes the cache"
}

// Run executes the rebuild job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	startedAt := time.Now()
	snap, err := j.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}

	completedAt := time.Now()
	stats := &RebuildStats{
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		TotalUsers:  snap.Len(),
	}
	j.lastStats.Store(stats)

	j.logger.Debug("leaderboard rebuilt",
		logger.Int("users", stats.TotalUsers),
		logger.Latency(stats.Duration))
	return nil
}

// GetLastStats returns statistics from the last successful run, or nil.
func (j *RebuildLeaderboardJob) GetLastStats() *RebuildStats {
	return j.lastStats.Load()
}
