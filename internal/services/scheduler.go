package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/earnhub/backend/internal/monitoring"
	"github.com/rs/zerolog"
)

// SchedulerConfig holds configuration for the package scheduler
type SchedulerConfig struct {
	// Interval between runs
	Interval time.Duration

	// RunTimeout bounds a single run
	RunTimeout time.Duration
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:   24 * time.Hour,
		RunTimeout: 30 * time.Minute,
	}
}

// RunReport is the outcome of one scheduler run.
type RunReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Accrued   int           `json:"accrued"`
	Sweep     SweepResult   `json:"sweep"`
}

// Scheduler drives accrual and the maturity sweep on a fixed cadence.
type Scheduler struct {
	packages *PackageService
	config   *SchedulerConfig
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(packages *PackageService, config *SchedulerConfig, logger zerolog.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	return &Scheduler{
		packages: packages,
		config:   config,
		logger:   logger.With().Str("component", "Scheduler").Logger(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start launches the loop and runs once immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.config.Interval).Msg("Starting package scheduler")

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop signals the loop and waits for the current run to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	s.logger.Info().Msg("Package scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.tick()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled run finished with errors")
	}
}

// RunOnce accrues all active packages and then runs the maturity sweep. It
// is safe to call while the loop is running.
func (s *Scheduler) RunOnce(ctx context.Context) (report *RunReport, err error) {
	start := s.now()
	report = &RunReport{StartedAt: start}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Panic recovered in scheduler run")
			err = fmt.Errorf("scheduler run panicked: %v", r)
		}
		report.Duration = time.Since(start)
		monitoring.SchedulerRunDuration.Observe(report.Duration.Seconds())
	}()

	accrued, accrueErr := s.packages.AccrueAll(ctx, start)
	report.Accrued = accrued

	sweep, sweepErr := s.packages.MatureSweep(ctx, start)
	report.Sweep = sweep

	s.logger.Info().Int("accrued", accrued).Int("matured", sweep.Matured).Int("failed", sweep.Failed).
		Msg("Scheduler run completed")
	return report, errors.Join(accrueErr, sweepErr)
}
