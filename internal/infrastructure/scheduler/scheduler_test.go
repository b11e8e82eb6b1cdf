package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job " + j.name }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type panickingJob struct{}

func (panickingJob) Name() string              { return "panics" }
func (panickingJob) Description() string       { return "" }
func (panickingJob) Run(context.Context) error { panic("boom") }

func TestParseCronExpression_Next(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "weekly on monday midnight",
			expr:  EveryMonday,
			after: time.Date(2026, 3, 11, 15, 4, 0, 0, time.UTC), // Wednesday
			want:  time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "exact match is not returned",
			expr:  EveryMonday,
			after: time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "every five minutes",
			expr:  Every5Minutes,
			after: time.Date(2026, 3, 11, 15, 4, 30, 0, time.UTC),
			want:  time.Date(2026, 3, 11, 15, 5, 0, 0, time.UTC),
		},
		{
			name:  "list and range",
			expr:  "30 9-10,18 * * *",
			after: time.Date(2026, 3, 11, 10, 31, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 11, 18, 30, 0, 0, time.UTC),
		},
		{
			name:  "sunday as seven",
			expr:  "0 12 * * 7",
			after: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "day of month or weekday",
			expr:  "0 0 13 * 1",
			after: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "month rollover",
			expr:  "0 0 1 * *",
			after: time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(tt.after))
		})
	}
}

func TestParseCronExpression_InLocation(t *testing.T) {
	almaty := time.FixedZone("ALMT", 5*3600)
	ce := MustParseCronExpression(EveryMonday)

	next := ce.Next(time.Date(2026, 3, 11, 12, 0, 0, 0, almaty))
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, almaty), next)
	assert.Equal(t, time.Date(2026, 3, 15, 19, 0, 0, 0, time.UTC), next.UTC())
}

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 90s")
	require.NoError(t, err)
	assert.Equal(t, "@every 1m30s", s.String())

	s, err = ParseSchedule("@weekly")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * 0", s.String())

	_, err = ParseSchedule("@every -1s")
	assert.Error(t, err)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 5 * time.Millisecond})
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	info, err := s.GetJobInfo("tick")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.RunCount, int64(2))
	require.NotNil(t, info.LastResult)
	assert.True(t, info.LastResult.Success)
}

func TestScheduler_DoesNotOverlap(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 2 * time.Millisecond})
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	// Let several ticks pass while the first run is blocked.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobBusy)

	close(job.block)
	require.NoError(t, s.Stop())

	var skipped int
	for _, r := range s.GetHistory(0) {
		if r.Skipped {
			skipped++
		}
	}
	assert.Positive(t, skipped)
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 2 * time.Millisecond})
	job := &countingJob{name: "off"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))
	require.NoError(t, s.DisableJob("off"))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Zero(t, job.runs.Load())
	assert.ErrorIs(t, s.DisableJob("missing"), ErrJobNotFound)
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, nil), ErrNilSchedule)

	require.NoError(t, s.Register(&countingJob{name: "a"}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(&countingJob{name: "b"}, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[0].Name)
	assert.Equal(t, "@every 1m0s", jobs[0].Schedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	failing := &countingJob{name: "fails", err: errors.New("store down")}
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(panickingJob{}, NewIntervalSchedule(time.Hour)))

	var completed []JobResult
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r) })

	result, err := s.RunNow(context.Background(), "fails")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Manual)

	result, err = s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrJobPanicked)
	assert.False(t, result.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Len(t, completed, 2)
	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalExecutions)
	assert.Equal(t, int64(2), snap.TotalFailures)
	assert.Equal(t, int64(1), snap.FailuresByJob["panics"])
}
