package app

import (
	"fmt"

	"github.com/alem-hub/alem-gamification/internal/infrastructure/scheduler"
	"github.com/alem-hub/alem-gamification/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// Jobs - зарегистрированные периодические задачи.
type Jobs struct {
	Scheduler   *scheduler.Scheduler
	WeeklyCycle *jobs.WeeklyCycleJob
}

// NewJobs создаёт планировщик с недельным циклом по cron в часовом поясе
// приложения и прогревом лидерборда с фиксированным интервалом.
func (a *App) NewJobs() (*Jobs, error) {
	cfg := a.Config.Scheduler

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   a.Log,
		Timezone: a.Config.App.Location,
	})

	cycleSchedule, err := scheduler.ParseSchedule(cfg.WeeklyCycleCron)
	if err != nil {
		return nil, fmt.Errorf("weekly cycle schedule: %w", err)
	}
	weekly := jobs.NewWeeklyCycleJob(a.Commands.WeeklyCycle, a.Log, jobs.WeeklyCycleJobConfig{
		Timeout: cfg.JobTimeout,
	})
	if err := sched.Register(weekly, cycleSchedule); err != nil {
		return nil, fmt.Errorf("register %s: %w", weekly.Name(), err)
	}

	sched.OnJobComplete(func(result scheduler.JobResult) {
		if result.JobName != weekly.Name() || !result.Success {
			return
		}
		if last := weekly.LastResult(); last != nil {
			a.Log.Info("weekly cycle summary",
				logger.CycleKey(last.CycleKey),
				logger.Int("processed", last.Processed),
				logger.Int("demoted", last.Demoted),
				logger.Int("protected", last.Protected),
				logger.Int("skipped", last.Skipped),
				logger.Int("failed", last.Failed),
			)
		}
	})

	if cfg.LeaderboardInterval > 0 {
		rebuild := jobs.NewRebuildLeaderboardJob(a.Queries.GetLeaderboard, a.Log,
			jobs.DefaultRebuildLeaderboardConfig())
		if err := sched.Register(rebuild, scheduler.NewIntervalSchedule(cfg.LeaderboardInterval)); err != nil {
			return nil, fmt.Errorf("register %s: %w", rebuild.Name(), err)
		}
	}

	for _, info := range sched.ListJobs() {
		a.Log.Info("job registered",
			logger.String("job", info.Name),
			logger.String("schedule", info.Schedule),
			logger.Time("next_run", info.NextRun),
		)
	}

	return &Jobs{Scheduler: sched, WeeklyCycle: weekly}, nil
}
