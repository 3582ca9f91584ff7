package orderproc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/orderproc/core"
	"github.com/tfkr-ae/orderproc/domain"
)

// WriteEvent queues an event for the event writer.
// It blocks while the queue is full and returns ErrClosed once the service is closed.
//
// Parameters:
//   - level: One of DEBUG, INFO, WARN, ERROR
//   - eventType: Dashboard category of the event (order, error, performance, stress)
//   - message: Human readable message
//   - options: Event options such as core.EventWithContext
func (svc *Service) WriteEvent(level, eventType, message string, options ...func(event *domain.Event) error) error {
	if err := domain.ValidateLevel(level); err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating new uuid : %w", err)
	}
	event := &domain.Event{
		ID:        id,
		Timestamp: svc.now().UTC(),
		Level:     level,
		Type:      eventType,
		Message:   message,
	}
	for _, option := range options {
		if err := option(event); err != nil {
			return fmt.Errorf("applying event option : %w", err)
		}
	}

	svc.mu.RLock()
	defer svc.mu.RUnlock()
	if svc.closed {
		return ErrClosed
	}
	svc.EventChannel <- event
	return nil
}

// Events returns the newest persisted events first.
func (svc *Service) Events(ctx context.Context, limit int) ([]*domain.Event, error) {
	return svc.Repo.GetEvents(ctx, limit)
}

// writeEvents drains EventChannel into the repository until the channel is closed.
func (svc *Service) writeEvents() {
	defer close(svc.writerDone)
	for event := range svc.EventChannel {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := svc.Repo.InsertEvent(ctx, event); err != nil {
			svc.Logger.Error("error writing event", "type", event.Type, "message", event.Message, "error", err)
		}
		cancel()
	}
}

func (svc *Service) latencyWarning(bucket string, average time.Duration) {
	svc.Logger.Warn("average latency above threshold", "bucket", bucket, "average", average, "threshold", svc.latencyWarn)
	svc.logEvent(domain.LevelWarn, domain.EventPerformance,
		fmt.Sprintf("High latency detected: %dms average at %s", average.Milliseconds(), bucket),
		core.EventWithContext(map[string]any{
			"bucket":      bucket,
			"averageMs":   average.Milliseconds(),
			"thresholdMs": svc.latencyWarn.Milliseconds(),
		}))
}

func (svc *Service) stressEvent(level, message string, context map[string]any) {
	svc.logEvent(level, domain.EventStress, message, core.EventWithContext(context))
}

// logEvent writes an event for an internal caller. Events raised after Close are dropped.
func (svc *Service) logEvent(level, eventType, message string, options ...func(event *domain.Event) error) {
	if err := svc.WriteEvent(level, eventType, message, options...); err != nil {
		svc.Logger.Debug("event dropped", "type", eventType, "message", message, "error", err)
	}
}
