// Package scheduler implements the Background Scheduler from spec.md
// §4.10: a small set of long-lived maintenance tasks (usage-flush,
// rate-limit prune, partition GC, temp-file GC), each retried with
// bounded backoff on failure, none of which is ever allowed to
// terminate the process.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/infrastructure/metrics"
)

// UsageFlusher moves in-memory rate-limit counters into durable rollups.
type UsageFlusher interface {
	FlushRollups(ctx context.Context) error
}

// RateLimitPruner deletes rate-limit usage records past retention.
type RateLimitPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// PartitionDropper removes message partitions left with zero documents.
type PartitionDropper interface {
	DropEmptyPartitions(ctx context.Context) ([]string, error)
}

// TempFileCleaner removes temporary upload/export files older than a
// cutoff. The HTTP-facing upload/export surface that produces these
// files is out of scope (spec.md §1); this is the maintenance half
// only, satisfied in production by a local-disk or object-storage
// implementation.
type TempFileCleaner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

const (
	usageFlushSpec     = "@every 1m"
	rateLimitPruneSpec = "@every 24h"
	partitionGCSpec    = "@every 24h"
	tempFileGCSpec     = "@every 1h"

	rateLimitRetentionDefault = 90 * 24 * time.Hour
	tempFileMaxAge            = 24 * time.Hour

	maxRetries   = 5
	initialDelay = 2 * time.Second
	maxDelay     = 30 * time.Second
)

// Scheduler owns a cron instance and the four maintenance tasks
// registered on it. Any of UsageFlusher/RateLimitPruner/PartitionDropper/
// TempFileCleaner may be nil, in which case the corresponding task is
// skipped rather than registered, so callers can run a subset in tests.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger
	m    *metrics.Metrics
	svc  string

	flusher   UsageFlusher
	pruner    RateLimitPruner
	dropper   PartitionDropper
	cleaner   TempFileCleaner
	retention time.Duration

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithRetention overrides the default rate-limit record retention window.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) { s.retention = d }
}

// WithRetryPolicy overrides the default bounded-backoff parameters,
// primarily so tests don't wait out a real 30-second cap.
func WithRetryPolicy(retries int, initial, delayCap time.Duration) Option {
	return func(s *Scheduler) {
		s.maxRetries = retries
		s.initialDelay = initial
		s.maxDelay = delayCap
	}
}

func New(log *logging.Logger, m *metrics.Metrics, service string, flusher UsageFlusher, pruner RateLimitPruner, dropper PartitionDropper, cleaner TempFileCleaner, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:      cron.New(),
		log:       log,
		m:         m,
		svc:       service,
		flusher:   flusher,
		pruner:    pruner,
		dropper:   dropper,
		cleaner:   cleaner,
		retention: rateLimitRetentionDefault,

		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers every non-nil task and begins the cron scheduler's
// background goroutine. It returns an error only if a task's cron spec
// fails to parse, which would be a programming error, not a runtime one.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.flusher != nil {
		if _, err := s.cron.AddFunc(usageFlushSpec, s.runTask(ctx, "usage_flush", func(ctx context.Context) error {
			return s.flusher.FlushRollups(ctx)
		})); err != nil {
			return err
		}
	}
	if s.pruner != nil {
		if _, err := s.cron.AddFunc(rateLimitPruneSpec, s.runTask(ctx, "rate_limit_prune", func(ctx context.Context) error {
			_, err := s.pruner.Prune(ctx, s.retention)
			return err
		})); err != nil {
			return err
		}
	}
	if s.dropper != nil {
		if _, err := s.cron.AddFunc(partitionGCSpec, s.runTask(ctx, "partition_gc", func(ctx context.Context) error {
			_, err := s.dropper.DropEmptyPartitions(ctx)
			return err
		})); err != nil {
			return err
		}
	}
	if s.cleaner != nil {
		if _, err := s.cron.AddFunc(tempFileGCSpec, s.runTask(ctx, "temp_file_gc", func(ctx context.Context) error {
			_, err := s.cleaner.PruneOlderThan(ctx, time.Now().UTC().Add(-tempFileMaxAge))
			return err
		})); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight task run to
// finish, per cron.Cron's own Stop contract.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// runTask wraps task in bounded-backoff retry and logs the outcome; a
// task that still fails after retries is logged, never propagated, so
// one bad run never brings down the scheduler (spec.md §4.10 "failures
// are logged but never terminate the process").
func (s *Scheduler) runTask(ctx context.Context, name string, task func(ctx context.Context) error) func() {
	return func() {
		start := time.Now()
		err := retryWithBackoff(ctx, s.maxRetries, s.initialDelay, s.maxDelay, task)
		entry := s.log.WithFields(map[string]interface{}{
			"task":     name,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Error("scheduled task failed")
			if s.m != nil {
				s.m.RecordError(s.svc, "scheduler_task", name)
			}
			return
		}
		entry.Info("scheduled task completed")
	}
}

// retryWithBackoff is the teacher's internal/marble.RetryWithBackoff
// pattern: exponential backoff capped at maxDelay, bailing out early if
// ctx is cancelled.
func retryWithBackoff(ctx context.Context, retries int, delay, delayCap time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for i := 0; i < retries; i++ {
		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
			if delay > delayCap {
				delay = delayCap
			}
		}
	}
	return lastErr
}
