package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventRepository defines the interface for the persisted operational event log.
type EventRepository interface {
	// InsertEvent saves a new event.
	InsertEvent(ctx context.Context, event *Event) error
	// GetEvents returns the newest events first. A limit of zero or less returns all events.
	GetEvents(ctx context.Context, limit int) ([]*Event, error)
}

// Event levels.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Event types, matching the categories shown on the dashboard.
const (
	EventOrder       = "order"
	EventError       = "error"
	EventPerformance = "performance"
	EventStress      = "stress"
)

// Event is a single entry of the operational event log.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	OrderID   *int64         `json:"orderId,omitempty"`
}

// ValidateLevel checks that level is one of the known event levels.
func ValidateLevel(level string) error {
	switch level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return nil
	default:
		return fmt.Errorf("level should be either: DEBUG, INFO, WARN, ERROR, got %q", level)
	}
}
