// Package core provides small helpers shared by the orderproc packages.
// This file contains option functions for customizing event log entries.
package core

import (
	"github.com/tfkr-ae/orderproc/domain"
)

// EventWithContext is an option to add a context map to an event.
func EventWithContext(context map[string]any) func(event *domain.Event) error {
	return func(event *domain.Event) error {
		event.Context = context
		return nil
	}
}

// EventWithOrderID is an option to associate an event with an order.
func EventWithOrderID(id int64) func(event *domain.Event) error {
	return func(event *domain.Event) error {
		event.OrderID = &id
		return nil
	}
}
