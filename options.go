package orderproc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tfkr-ae/orderproc/stress"
)

// WithOptions applies a series of configuration functions to the service instance.
// Each option function can modify the service configuration and return an error if it fails.
//
// Parameters:
//   - options: Variadic list of configuration functions
//
// Returns:
//   - error: First error encountered from any option function
func (svc *Service) WithOptions(options ...func(*Service) error) error {
	for _, option := range options {
		err := option(svc)
		if err != nil {
			return fmt.Errorf("applying option on orderproc : %w", err)
		}
	}
	return nil
}

// WithRepo sets the storage backend, closing any repository that was previously set.
func WithRepo(repo Repository) func(*Service) error {
	return func(svc *Service) error {
		if repo == nil {
			return errors.New("repository is nil")
		}
		if svc.Repo != nil {
			if err := svc.Repo.Close(); err != nil {
				return fmt.Errorf("closing previous repository : %w", err)
			}
		}
		svc.Repo = repo
		return nil
	}
}

// WithLogger sets the structured logger. A nil logger discards all output.
func WithLogger(logger *slog.Logger) func(*Service) error {
	return func(svc *Service) error {
		if logger == nil {
			logger = discardLogger()
		}
		svc.Logger = logger
		return nil
	}
}

// WithCacheSize sets the number of orders kept in the lookup cache.
func WithCacheSize(size int) func(*Service) error {
	return func(svc *Service) error {
		if size <= 0 {
			return fmt.Errorf("cache size must be positive, got %d", size)
		}
		svc.cacheSize = size
		return nil
	}
}

// WithStressLimits configures the stress runner.
//
// Parameters:
//   - maxOrders: Largest order count accepted for a single run
//   - defaultBatchSize: Batch size used when a run does not set one
//   - concurrency: Number of batches processed at the same time
func WithStressLimits(maxOrders, defaultBatchSize, concurrency int) func(*Service) error {
	return func(svc *Service) error {
		if maxOrders <= 0 || defaultBatchSize <= 0 || concurrency <= 0 {
			return fmt.Errorf("stress limits must be positive, got max=%d batch=%d concurrency=%d", maxOrders, defaultBatchSize, concurrency)
		}
		svc.stressOptions = append(svc.stressOptions,
			stress.WithMaxOrders(maxOrders),
			stress.WithDefaultBatchSize(defaultBatchSize),
			stress.WithConcurrency(concurrency),
		)
		return nil
	}
}

// WithAnalyticsWindow sets how many hourly buckets the analytics recorder keeps.
func WithAnalyticsWindow(hours int) func(*Service) error {
	return func(svc *Service) error {
		if hours <= 0 {
			return fmt.Errorf("analytics window must be positive, got %d", hours)
		}
		svc.analyticsHours = hours
		return nil
	}
}

// WithLatencyWarning sets the average hourly latency above which a performance event is written.
// Zero disables the warning.
func WithLatencyWarning(threshold time.Duration) func(*Service) error {
	return func(svc *Service) error {
		if threshold < 0 {
			return fmt.Errorf("latency warning must not be negative, got %s", threshold)
		}
		svc.latencyWarn = threshold
		return nil
	}
}

// WithClock replaces the time source, used by tests.
func WithClock(now func() time.Time) func(*Service) error {
	return func(svc *Service) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		svc.now = now
		return nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
