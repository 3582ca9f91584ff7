package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/orderproc/domain"
)

var _ domain.EventRepository = (*Repository)(nil)

// dbEvent represents an event log entry as stored in the database.
type dbEvent struct {
	ID        uuid.UUID     `db:"id"`        // Unique identifier for the event.
	Timestamp time.Time     `db:"timestamp"` // The time at which the event was created.
	Level     string        `db:"level"`     // The severity level of the event.
	Type      string        `db:"type"`      // The dashboard category of the event.
	Message   string        `db:"message"`   // The main content of the event.
	Context   Metadata      `db:"context"`   // A map of additional key-value data.
	OrderID   sql.NullInt64 `db:"order_id"`  // An optional id of an associated order.
}

// toDomainEvent converts a dbEvent to a domain.Event.
func toDomainEvent(row *dbEvent) *domain.Event {
	event := &domain.Event{
		ID:        row.ID,
		Timestamp: row.Timestamp,
		Level:     row.Level,
		Type:      row.Type,
		Message:   row.Message,
		Context:   map[string]any(row.Context),
	}

	if row.OrderID.Valid {
		id := row.OrderID.Int64
		event.OrderID = &id
	}

	return event
}

// fromDomainEvent converts a domain.Event to a dbEvent.
func fromDomainEvent(event *domain.Event) *dbEvent {
	row := &dbEvent{
		ID:        event.ID,
		Timestamp: event.Timestamp.UTC(),
		Level:     event.Level,
		Type:      event.Type,
		Message:   event.Message,
		Context:   Metadata(event.Context),
	}

	if event.OrderID != nil {
		row.OrderID = sql.NullInt64{Int64: *event.OrderID, Valid: true}
	}

	return row
}

// InsertEvent saves a new event to the database.
func (repo *Repository) InsertEvent(ctx context.Context, event *domain.Event) error {
	query := `INSERT INTO events (id, timestamp, level, type, message, context, order_id)
	          VALUES (:id, :timestamp, :level, :type, :message, :context, :order_id)`

	_, err := repo.dbConn.NamedExecContext(ctx, query, fromDomainEvent(event))
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", event.ID, err)
	}

	return nil
}

// GetEvents retrieves the newest events first.
func (repo *Repository) GetEvents(ctx context.Context, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = -1
	}

	var rows []*dbEvent
	query := `SELECT * FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`

	err := repo.dbConn.SelectContext(ctx, &rows, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}

	events := make([]*domain.Event, len(rows))
	for i, row := range rows {
		events[i] = toDomainEvent(row)
	}

	return events, nil
}
