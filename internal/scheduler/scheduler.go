package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hdbresale/server/internal/pipeline"
)

// JobType represents the different reasons a load runs
type JobType int

const (
	JobTypeStartup JobType = iota
	JobTypeScheduled
	JobTypeManual
)

// String returns the string representation of a JobType
func (j JobType) String() string {
	switch j {
	case JobTypeStartup:
		return "startup"
	case JobTypeScheduled:
		return "scheduled"
	case JobTypeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Refresher builds the working table.
type Refresher interface {
	Dataset(ctx context.Context) (*pipeline.State, error)
	Refresh(ctx context.Context) (*pipeline.State, error)
}

// Scheduler loads the working table at startup and reloads it periodically.
// Jobs never overlap.
type Scheduler struct {
	refresher    Refresher
	logger       *logrus.Logger
	interval     time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	jobMutex     sync.Mutex  // Ensures sequential job execution
	isStartupRun atomic.Bool // Tracks whether we're in startup run
}

// NewScheduler creates a new scheduler. An interval <= 0 disables periodic
// reloads.
func NewScheduler(refresher Refresher, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		refresher: refresher,
		logger:    logger,
		interval:  interval,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.isStartupRun.Store(true)
	return s
}

// Start begins the scheduled tasks
func (s *Scheduler) Start() {
	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		s.jobMutex.Lock()
		defer s.jobMutex.Unlock()
		s.logger.Info("Running startup load")
		s.run(JobTypeStartup)
		s.isStartupRun.Store(false)
		s.logger.Info("Startup load completed")
	}()

	go s.runScheduler()
}

// runScheduler triggers a reload every interval
func (s *Scheduler) runScheduler() {
	defer s.wg.Done()
	if s.interval <= 0 {
		<-s.ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.executeScheduledJob()
		}
	}
}

func (s *Scheduler) executeScheduledJob() {
	// Skip if we're still running the startup load
	if s.isStartupRun.Load() {
		s.logger.Debug("Skipping scheduled reload while startup is in progress")
		return
	}

	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()
	s.run(JobTypeScheduled)
}

// RunNow reloads immediately, waiting for any running job to finish first.
func (s *Scheduler) RunNow(ctx context.Context) (*pipeline.State, error) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()
	return s.refresh(ctx, JobTypeManual)
}

func (s *Scheduler) run(job JobType) {
	_, _ = s.refresh(s.ctx, job)
}

func (s *Scheduler) refresh(ctx context.Context, job JobType) (*pipeline.State, error) {
	start := time.Now()
	s.logger.WithField("job_type", job.String()).Info("Starting load job")

	var state *pipeline.State
	var err error
	if job == JobTypeStartup {
		state, err = s.refresher.Dataset(ctx)
	} else {
		state, err = s.refresher.Refresh(ctx)
	}

	if err != nil {
		s.logger.WithError(err).WithField("job_type", job.String()).Error("Load job failed")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"job_type":   job.String(),
		"generation": state.Generation,
		"rows":       state.Rows,
		"duration":   time.Since(start).String(),
	}).Info("Load job completed successfully")
	return state, nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
