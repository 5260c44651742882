package service

import (
	"context"
	"sync"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/rs/zerolog"
)

const settlementCycleLock = "settlement:payout-cycle"

// PayoutWorker is a background worker that periodically schedules, processes
// and retries payouts
type PayoutWorker struct {
	scheduler *PayoutScheduler
	processor *PayoutProcessor
	lock      JobLock
	logger    zerolog.Logger
	interval  time.Duration
	frequency domain.ScheduleFrequency
	lockTTL   time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// PayoutWorkerConfig holds configuration for the payout worker
type PayoutWorkerConfig struct {
	Interval  time.Duration            // How often to run a settlement cycle
	Frequency domain.ScheduleFrequency // Frequency stamped on scheduled payouts
	LockTTL   time.Duration            // Expiry of the cycle lock if the holder dies
}

// DefaultPayoutWorkerConfig returns sensible defaults
func DefaultPayoutWorkerConfig() PayoutWorkerConfig {
	return PayoutWorkerConfig{
		Interval:  1 * time.Hour,
		Frequency: domain.ScheduleFrequencyWeekly,
		LockTTL:   15 * time.Minute,
	}
}

// CycleResult summarizes one settlement cycle
type CycleResult struct {
	Scheduled    *ScheduleResult
	Processed    *ProcessResult
	Retried      *RetryResult
	LockAcquired bool
}

// NewPayoutWorker creates a new payout worker
func NewPayoutWorker(
	scheduler *PayoutScheduler,
	processor *PayoutProcessor,
	lock JobLock,
	logger zerolog.Logger,
	config PayoutWorkerConfig,
) *PayoutWorker {
	defaults := DefaultPayoutWorkerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if !config.Frequency.IsValid() {
		config.Frequency = defaults.Frequency
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if lock == nil {
		lock = NewLocalJobLock()
	}

	return &PayoutWorker{
		scheduler: scheduler,
		processor: processor,
		lock:      lock,
		logger:    logger.With().Str("component", "payout_worker").Logger(),
		interval:  config.Interval,
		frequency: config.Frequency,
		lockTTL:   config.LockTTL,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background settlement cycles
func (w *PayoutWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info().
		Dur("interval", w.interval).
		Str("frequency", string(w.frequency)).
		Msg("Starting payout worker")

	go w.run(ctx)
}

// Stop gracefully stops the payout worker
func (w *PayoutWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.logger.Info().Msg("Stopping payout worker")
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info().Msg("Payout worker stopped")
}

func (w *PayoutWorker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	// Run immediately on startup
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs Schedule, Process and bulk Retry under the cycle lock.
// A step that fails is logged and the following steps still run.
func (w *PayoutWorker) RunOnce(ctx context.Context) *CycleResult {
	result := &CycleResult{}

	token, ok, err := w.lock.TryLock(ctx, settlementCycleLock, w.lockTTL)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to acquire settlement cycle lock")
		return result
	}
	if !ok {
		w.logger.Debug().Msg("Settlement cycle already running elsewhere")
		return result
	}
	result.LockAcquired = true
	defer func() {
		if err := w.lock.Unlock(context.WithoutCancel(ctx), settlementCycleLock, token); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to release settlement cycle lock")
		}
	}()

	startTime := time.Now()
	cycleStart := w.now().UTC()

	scheduled, err := w.scheduler.Schedule(ctx, ScheduleInput{
		ScheduledAt: cycleStart,
		Frequency:   w.frequency,
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to schedule payouts")
	}
	result.Scheduled = scheduled

	processed, err := w.processor.Process(ctx, ProcessInput{CreateBatch: true})
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to process payouts")
	}
	result.Processed = processed

	// Payouts failed in this cycle wait for the next one
	retried, err := w.processor.Retry(ctx, RetryInput{FailedBefore: &cycleStart})
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to retry payouts")
	}
	result.Retried = retried

	w.logger.Info().
		Dur("elapsed", time.Since(startTime)).
		Msg("Completed settlement cycle")
	return result
}

// IsRunning returns whether the worker is currently running
func (w *PayoutWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
