package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-co-op/gocron/v2"
)

// CompactionJobName is the scheduled merge-chain compaction
const CompactionJobName = "compact-merge-chains"

// Task is a scheduled unit of work
type Task func(ctx context.Context) error

// Scheduler runs named tasks on cron schedules in UTC
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    ectologger.Logger
	timeout   time.Duration

	mu   sync.Mutex
	jobs map[string]gocron.Job
}

// NewScheduler creates a scheduler. Each run of a task is bounded by timeout.
func NewScheduler(logger ectologger.Logger, timeout time.Duration) (*Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(&gocronLogger{logger: logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    logger,
		timeout:   timeout,
		jobs:      make(map[string]gocron.Job),
	}, nil
}

// AddJob schedules task under name with a five-field cron expression.
// A run is skipped while the previous run of the same job is still going.
func (s *Scheduler) AddJob(name, cronExpr string, task Task) error {
	if name == "" {
		return errors.New("empty job name")
	}
	if cronExpr == "" {
		return errors.New("empty cron expression")
	}
	if task == nil {
		return errors.New("nil job function")
	}

	run := func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		start := time.Now()
		err := task(ctx)
		log := s.logger.WithContext(ctx).WithFields(map[string]any{
			"job_name":    name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			log.WithError(err).Error("Scheduled job failed")
			return
		}
		log.Debug("Scheduled job finished")
	}

	job, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(run),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs[name] = job
	s.mu.Unlock()

	fields := map[string]any{"job_name": name, "cron": cronExpr}
	if nextRun, err := job.NextRun(); err == nil {
		fields["next_run"] = nextRun.Format(time.RFC3339)
	}
	s.logger.WithFields(fields).Info("Job scheduled")

	return nil
}

// RunNow triggers a scheduled job immediately
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not scheduled", name)
	}
	return job.RunNow()
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down and waits for running jobs to complete
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}

// ChainCompactor flattens merge chains across every org
type ChainCompactor interface {
	CompactAllChains(ctx context.Context) (int, error)
}

// ScheduleCompaction registers the merge-chain compaction job
func ScheduleCompaction(s *Scheduler, compactor ChainCompactor, cronExpr string) error {
	return s.AddJob(CompactionJobName, cronExpr, func(ctx context.Context) error {
		n, err := compactor.CompactAllChains(ctx)
		if err != nil {
			return err
		}
		s.logger.WithContext(ctx).WithField("compacted", n).Info("Merge chain compaction finished")
		return nil
	})
}

// gocronLogger forwards gocron's key/value logs to ectologger
type gocronLogger struct {
	logger ectologger.Logger
}

func (l *gocronLogger) Debug(msg string, args ...any) {
	l.logger.WithFields(toFields(args)).Debug(msg)
}

func (l *gocronLogger) Info(msg string, args ...any) {
	l.logger.WithFields(toFields(args)).Info(msg)
}

func (l *gocronLogger) Warn(msg string, args ...any) {
	l.logger.WithFields(toFields(args)).Warn(msg)
}

func (l *gocronLogger) Error(msg string, args ...any) {
	l.logger.WithFields(toFields(args)).Error(msg)
}

func toFields(args []any) map[string]any {
	fields := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["value"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		fields[key] = args[i+1]
	}
	return fields
}
