// Package orderproc provides an order processing service with batch ingestion, status tracking,
// live order streaming, stress testing and runtime analytics, backed by SQLite storage.
// It is decoupled from the HTTP layer and the CLI so the same Service can be driven by the
// api package, the orderproc command or tests.
//
// The core functionality includes:
//   - Order processing, single and batched, with optimistic versioning
//   - A read-through LRU cache for order lookups
//   - A live feed of saved and updated orders for streaming clients
//   - A stress test runner that pushes generated load through batch processing
//   - Request and order analytics aggregated into hourly buckets
//   - A persisted operational event log
package orderproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tfkr-ae/orderproc/analytics"
	"github.com/tfkr-ae/orderproc/core"
	"github.com/tfkr-ae/orderproc/domain"
	"github.com/tfkr-ae/orderproc/stress"
)

// Repository defines the storage methods consumed by the service.
// It is satisfied by *db.Repository.
type Repository interface {
	domain.OrderRepository
	domain.StatsRepository
	domain.EventRepository
	domain.StressRunRepository
	Ping(ctx context.Context) error
	Close() error
}

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("service is closed")

// Service is the main struct that orchestrates order processing, caching, streaming,
// stress testing, analytics and the event log.
type Service struct {
	Repo      Repository          // Storage backend
	Logger    *slog.Logger        // Structured logger, never nil after New
	Analytics *analytics.Recorder // In-memory request and order analytics
	Stress    *stress.Runner      // Stress test runner feeding ProcessBatch

	EventChannel chan *domain.Event // Buffered queue drained by the event writer

	cacheSize      int
	stressOptions  []stress.Option
	analyticsHours int
	latencyWarn    time.Duration
	now            func() time.Time
	startedAt      time.Time

	orders   *lru.Cache[int64, *domain.Order]
	numbers  *lru.Cache[string, int64]
	cacheMu  sync.Mutex
	cacheGen uint64 // bumped by every eviction
	feed     *broadcaster

	mu         sync.RWMutex
	closed     bool
	writerDone chan struct{}
}

// New creates a new Service with default configuration and applies any provided options.
// A repository must be supplied through WithRepo.
// The event writer goroutine is started before New returns and stopped by Close.
func New(options ...func(*Service) error) (*Service, error) {
	svc := &Service{
		Logger:         discardLogger(),
		EventChannel:   make(chan *domain.Event, 64),
		cacheSize:      1024,
		analyticsHours: 24,
		latencyWarn:    500 * time.Millisecond,
		now:            time.Now,
		feed:           newBroadcaster(),
		writerDone:     make(chan struct{}),
	}

	if err := svc.WithOptions(options...); err != nil {
		return nil, err
	}
	if svc.Repo == nil {
		return nil, errors.New("service requires a repository")
	}

	var err error
	svc.orders, err = lru.New[int64, *domain.Order](svc.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating order cache : %w", err)
	}
	svc.numbers, err = lru.New[string, int64](svc.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating order number cache : %w", err)
	}

	svc.Analytics = analytics.NewRecorder(
		analytics.WithWindow(svc.analyticsHours),
		analytics.WithClock(svc.now),
		analytics.WithLatencyWarning(svc.latencyWarn, svc.latencyWarning),
	)

	runnerOptions := append([]stress.Option{
		stress.WithStore(svc.Repo),
		stress.WithLogger(svc.Logger),
		stress.WithEventSink(svc.stressEvent),
		stress.WithClock(svc.now),
	}, svc.stressOptions...)
	svc.Stress, err = stress.NewRunner(svc, runnerOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating stress runner : %w", err)
	}

	svc.startedAt = svc.now()
	go svc.writeEvents()
	return svc, nil
}

// Close stops any running stress test, ends every live subscription and flushes the event log.
// The repository is left open, it is owned by the caller.
func (svc *Service) Close() error {
	svc.mu.Lock()
	if svc.closed {
		svc.mu.Unlock()
		return nil
	}
	svc.closed = true
	svc.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := svc.Stress.Stop(stopCtx); err != nil && !errors.Is(err, domain.ErrNoStressTest) {
		svc.Logger.Warn("stopping stress test on close", "error", err)
	}

	svc.feed.closeAll()

	svc.mu.Lock()
	close(svc.EventChannel)
	svc.mu.Unlock()
	<-svc.writerDone
	return nil
}

// StartedAt returns the time the service was created.
func (svc *Service) StartedAt() time.Time {
	return svc.startedAt
}

// Ping reports whether the storage backend is reachable.
func (svc *Service) Ping(ctx context.Context) error {
	return svc.Repo.Ping(ctx)
}

// ProcessOrder validates the order, marks it as processing and stores it.
func (svc *Service) ProcessOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if err := order.Validate(); err != nil {
		svc.Analytics.RecordOrders(0, 1)
		return nil, err
	}

	start := svc.now()
	order.ID = 0
	order.Status = domain.StatusProcessing
	gen := svc.generation()
	if err := svc.Repo.Save(ctx, order); err != nil {
		svc.Analytics.RecordOrders(0, 1)
		svc.Logger.ErrorContext(ctx, "error processing order", requestAttrs(ctx, "order_number", order.OrderNumber, "error", err)...)
		svc.logEvent(domain.LevelError, domain.EventError, fmt.Sprintf("Failed to process order %s", order.OrderNumber),
			core.EventWithContext(map[string]any{"error": err.Error()}))
		return nil, fmt.Errorf("processing order %s : %w", order.OrderNumber, err)
	}

	svc.Analytics.RecordOrders(1, 0)
	svc.Analytics.RecordLatency(svc.now().Sub(start))
	svc.remember(order, gen)
	svc.feed.publish(order)
	svc.Logger.DebugContext(ctx, "processed order", requestAttrs(ctx, "order_number", order.OrderNumber, "id", order.ID)...)
	svc.logEvent(domain.LevelInfo, domain.EventOrder, fmt.Sprintf("New order #%d received", order.ID), core.EventWithOrderID(order.ID))
	return order, nil
}

// ProcessBatch validates every order, marks them as processing and stores them in one transaction.
// The first invalid order rejects the whole batch.
func (svc *Service) ProcessBatch(ctx context.Context, orders []*domain.Order) ([]*domain.Order, error) {
	for i, order := range orders {
		if order == nil {
			svc.Analytics.RecordOrders(0, len(orders))
			return nil, fmt.Errorf("order at index %d : %w: empty order", i, domain.ErrInvalidOrder)
		}
		if err := order.Validate(); err != nil {
			svc.Analytics.RecordOrders(0, len(orders))
			return nil, fmt.Errorf("order at index %d : %w", i, err)
		}
	}

	start := svc.now()
	for _, order := range orders {
		order.ID = 0
		order.Status = domain.StatusProcessing
	}

	if err := svc.Repo.SaveAll(ctx, orders); err != nil {
		svc.Analytics.RecordOrders(0, len(orders))
		svc.Logger.ErrorContext(ctx, "error processing batch orders", requestAttrs(ctx, "size", len(orders), "error", err)...)
		svc.logEvent(domain.LevelError, domain.EventError, fmt.Sprintf("Failed to process batch of %d orders", len(orders)),
			core.EventWithContext(map[string]any{"error": err.Error()}))
		return nil, fmt.Errorf("processing batch of %d orders : %w", len(orders), err)
	}

	svc.Analytics.RecordOrders(len(orders), 0)
	svc.Analytics.RecordLatency(svc.now().Sub(start))
	for _, order := range orders {
		svc.feed.publish(order)
	}
	svc.Logger.DebugContext(ctx, "processed batch", requestAttrs(ctx, "size", len(orders))...)
	return orders, nil
}

// GetOrder returns an order by id, serving it from the cache when possible.
func (svc *Service) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if cached, ok := svc.orders.Get(id); ok {
		return cloneOrder(cached), nil
	}

	gen := svc.generation()
	order, err := svc.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	svc.remember(order, gen)
	return order, nil
}

// GetOrderByNumber returns an order by its order number, serving it from the cache when possible.
func (svc *Service) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	if id, ok := svc.numbers.Get(orderNumber); ok {
		if cached, ok := svc.orders.Get(id); ok {
			return cloneOrder(cached), nil
		}
	}

	gen := svc.generation()
	order, err := svc.Repo.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	svc.remember(order, gen)
	return order, nil
}

// UpdateOrderStatus changes the status of an order and returns the stored result.
func (svc *Service) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	svc.forget(id)
	updated, err := svc.Repo.UpdateStatus(ctx, id, status)
	svc.forget(id)
	if err != nil {
		return nil, err
	}
	if updated == 0 {
		return nil, fmt.Errorf("order %d : %w", id, domain.ErrOrderNotFound)
	}

	gen := svc.generation()
	order, err := svc.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	svc.remember(order, gen)
	if status == domain.StatusFailed {
		svc.logEvent(domain.LevelWarn, domain.EventError, fmt.Sprintf("Order #%d marked as failed", id), core.EventWithOrderID(id))
	}
	svc.feed.publish(order)
	return order, nil
}

// ListOrders returns one page of orders matching the filter.
func (svc *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.Page[*domain.Order], error) {
	return svc.Repo.FindAll(ctx, filter)
}

// OrdersByStatus returns the stored orders in a status, or all orders when status is nil.
func (svc *Service) OrdersByStatus(ctx context.Context, status *domain.OrderStatus, limit int) ([]*domain.Order, error) {
	return svc.Repo.FindByStatus(ctx, status, limit)
}

// DeleteOrder removes an order and evicts it from the cache.
func (svc *Service) DeleteOrder(ctx context.Context, id int64) error {
	svc.forget(id)
	err := svc.Repo.Delete(ctx, id)
	svc.forget(id)
	return err
}

// Subscribe returns a channel receiving every order saved or updated from now on.
// Slow subscribers miss orders instead of blocking writers. The cancel func must be called
// to release the subscription, it is safe to call more than once.
func (svc *Service) Subscribe(buffer int) (<-chan *domain.Order, func()) {
	return svc.feed.subscribe(buffer)
}

func (svc *Service) generation() uint64 {
	svc.cacheMu.Lock()
	defer svc.cacheMu.Unlock()
	return svc.cacheGen
}

// remember caches an order read at generation gen. It is dropped when an eviction
// happened since, the row may already be stale or deleted.
func (svc *Service) remember(order *domain.Order, gen uint64) {
	svc.cacheMu.Lock()
	defer svc.cacheMu.Unlock()
	if gen != svc.cacheGen {
		return
	}
	svc.orders.Add(order.ID, cloneOrder(order))
	svc.numbers.Add(order.OrderNumber, order.ID)
}

func (svc *Service) forget(id int64) {
	svc.cacheMu.Lock()
	defer svc.cacheMu.Unlock()
	svc.cacheGen++
	if cached, ok := svc.orders.Peek(id); ok {
		svc.numbers.Remove(cached.OrderNumber)
	}
	svc.orders.Remove(id)
}

func cloneOrder(order *domain.Order) *domain.Order {
	clone := *order
	return &clone
}
