// Package stress generates synthetic order load and pushes it through batch processing.
// A Runner allows a single active run at a time, tracks progress with atomic counters and
// persists every run with its final counters.
package stress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/orderproc/domain"
	"golang.org/x/sync/errgroup"
)

// Processor stores a batch of orders and returns them with their final status.
type Processor interface {
	ProcessBatch(ctx context.Context, orders []*domain.Order) ([]*domain.Order, error)
}

// Option configures a Runner.
type Option func(*Runner) error

// Runner executes stress runs against a Processor.
type Runner struct {
	processor   Processor
	store       domain.StressRunRepository
	logger      *slog.Logger
	onEvent     func(level, message string, context map[string]any)
	now         func() time.Time
	maxOrders   int
	batchSize   int
	concurrency int

	mu     sync.Mutex
	active *run
	last   *domain.StressResult
}

type run struct {
	id      uuid.UUID
	config  domain.StressConfig
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	stopped    atomic.Bool
	processed  atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	batches    atomic.Int64
	batchNanos atomic.Int64

	result *domain.StressResult
}

// NewRunner creates a runner with a limit of 10000 orders, batches of 100 and 4 concurrent batches.
func NewRunner(processor Processor, options ...Option) (*Runner, error) {
	if processor == nil {
		return nil, errors.New("stress runner requires a processor")
	}
	r := &Runner{
		processor:   processor,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		maxOrders:   10000,
		batchSize:   100,
		concurrency: 4,
	}
	for _, option := range options {
		if err := option(r); err != nil {
			return nil, fmt.Errorf("applying option on stress runner : %w", err)
		}
	}
	return r, nil
}

// WithStore persists runs. Without a store runs are only kept in memory.
func WithStore(store domain.StressRunRepository) Option {
	return func(r *Runner) error {
		r.store = store
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// WithEventSink receives the started, stopped and completed notifications of every run.
func WithEventSink(sink func(level, message string, context map[string]any)) Option {
	return func(r *Runner) error {
		r.onEvent = sink
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		r.now = now
		return nil
	}
}

func WithMaxOrders(n int) Option {
	return func(r *Runner) error {
		if n <= 0 {
			return fmt.Errorf("max orders must be positive, got %d", n)
		}
		r.maxOrders = n
		return nil
	}
}

func WithDefaultBatchSize(n int) Option {
	return func(r *Runner) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		r.batchSize = n
		return nil
	}
}

func WithConcurrency(n int) Option {
	return func(r *Runner) error {
		if n <= 0 {
			return fmt.Errorf("concurrency must be positive, got %d", n)
		}
		r.concurrency = n
		return nil
	}
}

// MaxOrders returns the largest order count accepted for a run.
func (r *Runner) MaxOrders() int {
	return r.maxOrders
}

// LimitMessage is the user facing rejection for configurations above MaxOrders.
func (r *Runner) LimitMessage() string {
	return fmt.Sprintf("Maximum %s orders allowed for stress test", groupDigits(r.maxOrders))
}

// Normalize validates the configuration and fills in defaults.
func (r *Runner) Normalize(cfg domain.StressConfig) (domain.StressConfig, error) {
	if cfg.NumOrders <= 0 {
		return cfg, fmt.Errorf("%w: number of orders must be positive", domain.ErrInvalidStressConfig)
	}
	if cfg.NumOrders > r.maxOrders {
		return cfg, fmt.Errorf("%w: %d orders requested, maximum is %d", domain.ErrStressTestLimit, cfg.NumOrders, r.maxOrders)
	}
	if cfg.DelayBetweenBatches < 0 {
		return cfg, fmt.Errorf("%w: delay between batches must not be negative", domain.ErrInvalidStressConfig)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = r.batchSize
	}
	cfg.BatchSize = min(cfg.BatchSize, cfg.NumOrders)
	switch cfg.OrderType {
	case "":
		cfg.OrderType = domain.OrderTypeSimple
	case domain.OrderTypeSimple, domain.OrderTypeComplex:
	default:
		return cfg, fmt.Errorf("%w: unknown order type %q", domain.ErrInvalidStressConfig, cfg.OrderType)
	}
	return cfg, nil
}

// Start begins a run in the background and returns its initial state.
// The run is not bound to ctx, only Stop ends it early.
func (r *Runner) Start(ctx context.Context, cfg domain.StressConfig) (*domain.StressResult, error) {
	active, err := r.start(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return nil, err
	}
	return r.snapshot(active, domain.StressRunning), nil
}

// Run executes a run and waits for it to finish. Cancelling ctx stops the run.
func (r *Runner) Run(ctx context.Context, cfg domain.StressConfig) (*domain.StressResult, error) {
	active, err := r.start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	<-active.done
	return active.result, nil
}

// Stop cancels the active run and waits for its in-flight batches to finish.
func (r *Runner) Stop(ctx context.Context) (*domain.StressResult, error) {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == nil {
		return nil, domain.ErrNoStressTest
	}

	active.stopped.Store(true)
	active.cancel()
	select {
	case <-active.done:
		return active.result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for stress test to stop : %w", ctx.Err())
	}
}

// Status reports whether a run is active and returns its live progress,
// or the result of the last finished run. The result is nil if nothing ran yet.
func (r *Runner) Status() (bool, *domain.StressResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return true, r.snapshot(r.active, domain.StressRunning)
	}
	if r.last == nil {
		return false, nil
	}
	last := *r.last
	return false, &last
}

func (r *Runner) start(parent context.Context, cfg domain.StressConfig) (*run, error) {
	cfg, err := r.Normalize(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, domain.ErrStressTestRunning
	}
	ctx, cancel := context.WithCancel(parent)
	active := &run{
		id:      uuid.New(),
		config:  cfg,
		started: r.now().UTC(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.active = active
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.InsertStressRun(ctx, r.snapshot(active, domain.StressRunning)); err != nil {
			r.logger.Error("error recording stress run", "id", active.id, "error", err)
		}
	}
	r.logger.Info("stress test started", "id", active.id, "orders", cfg.NumOrders, "batch_size", cfg.BatchSize, "type", cfg.OrderType)
	r.event(domain.LevelInfo, fmt.Sprintf("Stress test started with %d orders", cfg.NumOrders), map[string]any{
		"id":        active.id.String(),
		"numOrders": cfg.NumOrders,
		"batchSize": cfg.BatchSize,
		"orderType": string(cfg.OrderType),
	})

	go r.execute(ctx, active)
	return active, nil
}

func (r *Runner) execute(ctx context.Context, active *run) {
	defer close(active.done)
	defer active.cancel()

	cfg := active.config
	delay := time.Duration(cfg.DelayBetweenBatches) * time.Millisecond
	// in-flight batches complete even when the run is stopped
	batchCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(r.concurrency)

dispatch:
	for start := 0; start < cfg.NumOrders; start += cfg.BatchSize {
		if start > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				break dispatch
			}
		}
		if ctx.Err() != nil {
			break
		}

		orders := generateBatch(cfg.OrderType, min(cfg.BatchSize, cfg.NumOrders-start))
		g.Go(func() error {
			r.processBatch(batchCtx, active, orders)
			return nil
		})
	}
	g.Wait()

	result := r.finish(ctx, active)

	r.mu.Lock()
	r.active = nil
	r.last = result
	r.mu.Unlock()
}

func (r *Runner) processBatch(ctx context.Context, active *run, orders []*domain.Order) {
	start := time.Now()
	processed, err := r.processor.ProcessBatch(ctx, orders)
	active.batches.Add(1)
	active.batchNanos.Add(int64(time.Since(start)))

	if err != nil {
		active.failed.Add(int64(len(orders)))
		r.logger.Warn("stress batch failed", "id", active.id, "size", len(orders), "error", err)
		return
	}
	for _, order := range processed {
		active.processed.Add(1)
		if order.Status == domain.StatusProcessing {
			active.successful.Add(1)
		} else {
			active.failed.Add(1)
		}
	}
}

func (r *Runner) finish(ctx context.Context, active *run) *domain.StressResult {
	status := domain.StressCompleted
	message := "Stress test completed successfully"
	if active.stopped.Load() {
		status = domain.StressStopped
		message = "Stress test stopped by user"
	} else if ctx.Err() != nil {
		status = domain.StressStopped
		message = "Stress test cancelled"
	}

	result := r.snapshot(active, status)
	result.Message = message
	finished := result.StartedAt.Add(time.Duration(result.DurationMillis) * time.Millisecond)
	result.FinishedAt = &finished
	active.result = result

	if r.store != nil {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.store.UpdateStressRun(storeCtx, result); err != nil {
			r.logger.Error("error updating stress run", "id", active.id, "error", err)
		}
	}

	r.logger.Info("stress test finished", "id", active.id, "status", status,
		"processed", result.ProcessedOrders, "failed", result.FailedOrders, "throughput", result.Throughput)
	level := domain.LevelInfo
	if result.FailedOrders > 0 || status != domain.StressCompleted {
		level = domain.LevelWarn
	}
	r.event(level, fmt.Sprintf("%s: %d orders processed, %d failed", message, result.ProcessedOrders, result.FailedOrders), map[string]any{
		"id":          active.id.String(),
		"status":      status,
		"throughput":  result.Throughput,
		"successRate": result.SuccessRate,
	})
	return result
}

// snapshot computes the counters of a run as of now.
func (r *Runner) snapshot(active *run, status string) *domain.StressResult {
	successful := int(active.successful.Load())
	failed := int(active.failed.Load())
	processed := int(active.processed.Load())
	elapsed := r.now().UTC().Sub(active.started)

	result := &domain.StressResult{
		ID:               active.id,
		Status:           status,
		Config:           active.config,
		TotalOrders:      active.config.NumOrders,
		ProcessedOrders:  processed,
		SuccessfulOrders: successful,
		FailedOrders:     failed,
		DurationMillis:   elapsed.Milliseconds(),
		StartedAt:        active.started,
	}
	if seconds := elapsed.Seconds(); seconds > 0 {
		result.Throughput = float64(processed) / seconds
	}
	if batches := active.batches.Load(); batches > 0 {
		result.AvgBatchLatencyMillis = float64(active.batchNanos.Load()) / float64(batches) / float64(time.Millisecond)
	}
	if attempted := successful + failed; attempted > 0 {
		result.SuccessRate = float64(successful) / float64(attempted) * 100
		result.ErrorRate = float64(failed) / float64(attempted) * 100
	}
	return result
}

func (r *Runner) event(level, message string, context map[string]any) {
	if r.onEvent != nil {
		r.onEvent(level, message, context)
	}
}

// groupDigits formats n with thousands separators.
func groupDigits(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return "-" + groupDigits(-n)
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
