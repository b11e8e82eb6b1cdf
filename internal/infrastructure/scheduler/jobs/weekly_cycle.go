// Package jobs contains the engine's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alem-hub/alem-gamification/internal/application/command"
	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY CYCLE JOB
// ══════════════════════════════════════════════════════════════════════════════

// WeeklyCycleRunner runs one weekly cycle.
type WeeklyCycleRunner interface {
	Handle(ctx context.Context, cmd command.RunWeeklyCycleCommand) (*command.RunWeeklyCycleResult, error)
}

// WeeklyCycleJob triggers the weekly demotion and reset cycle. A period that
// is already complete or locked by another worker counts as a successful run.
type WeeklyCycleJob struct {
	runner WeeklyCycleRunner
	logger *logger.Logger
	config WeeklyCycleJobConfig

	lastResult atomic.Pointer[command.RunWeeklyCycleResult]
}

// WeeklyCycleJobConfig contains configuration for the weekly cycle job.
type WeeklyCycleJobConfig struct {
	// Timeout is the maximum duration of one run.
	Timeout time.Duration

	// FailOnUserErrors makes the run report an error when any user failed.
	// The period is still marked complete.
	FailOnUserErrors bool
}

// DefaultWeeklyCycleJobConfig returns sensible defaults.
func DefaultWeeklyCycleJobConfig() WeeklyCycleJobConfig {
	return WeeklyCycleJobConfig{
		Timeout: 30 * time.Minute,
	}
}

// NewWeeklyCycleJob creates a new weekly cycle job.
func NewWeeklyCycleJob(runner WeeklyCycleRunner, log *logger.Logger, config WeeklyCycleJobConfig) *WeeklyCycleJob {
	if log == nil {
		log = logger.Nop()
	}
	return &WeeklyCycleJob{
		runner: runner,
		logger: log.With(logger.String("job", "weekly_cycle")),
		config: config,
	}
}

// Name returns the job name.
func (j *WeeklyCycleJob) Name() string {
	return "weekly_cycle"
}

// Description returns a human-readable description.
func (j *WeeklyCycleJob) Description() string {
	return "Applies weekly demotion floors and resets weekly points"
}

// Run executes the weekly cycle for the current period.
func (j *WeeklyCycleJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	result, err := j.runner.Handle(ctx, command.RunWeeklyCycleCommand{})
	switch {
	case errors.Is(err, shared.ErrCycleAlreadyRan):
		j.logger.Info("weekly cycle already completed for this period")
		return nil
	case errors.Is(err, shared.ErrCycleLocked):
		j.logger.Info("weekly cycle is running on another worker")
		return nil
	case err != nil:
		return err
	}

	j.lastResult.Store(result)

	if j.config.FailOnUserErrors && result.Failed > 0 {
		return fmt.Errorf("weekly cycle %s: %d users failed", result.CycleKey, result.Failed)
	}
	return nil
}

// LastResult returns the result of the last completed run, or nil.
func (j *WeeklyCycleJob) LastResult() *command.RunWeeklyCycleResult {
	return j.lastResult.Load()
}
