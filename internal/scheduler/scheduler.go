// Package scheduler runs a job once at startup and then on a fixed interval.
package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs its job sequentially: a tick that arrives while the previous
// run is still going is skipped.
type Scheduler struct {
	name     string
	job      Job
	interval time.Duration
	logger   *logrus.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	jobMutex sync.Mutex
	runs     int
}

func NewScheduler(name string, job Job, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Scheduler{
		name:     name,
		job:      job,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs the startup job and begins the schedule.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runScheduler(ctx)
	}()
}

func (s *Scheduler) runScheduler(ctx context.Context) {
	s.logger.WithField("job", s.name).Info("Running startup job")
	s.execute(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	if !s.jobMutex.TryLock() {
		s.logger.WithField("job", s.name).Debug("Skipping tick while job is running")
		return
	}
	defer s.jobMutex.Unlock()

	start := time.Now()
	err := s.job(ctx)
	s.runs++

	entry := s.logger.WithFields(logrus.Fields{
		"job":      s.name,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Error("Scheduled job failed")
		return
	}
	entry.Debug("Scheduled job completed")
}

// Runs returns how many times the job has run.
func (s *Scheduler) Runs() int {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()
	return s.runs
}

// Stop gracefully stops the scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.wg.Wait()
}
