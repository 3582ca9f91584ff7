package domain

import "context"

// StatsRepository defines the interface for retrieving aggregate statistics about orders.
type StatsRepository interface {
	// CountOrders returns the total number of stored orders.
	CountOrders(ctx context.Context) (int, error)
	// CountByStatus returns the number of orders per status. Statuses without orders are omitted.
	CountByStatus(ctx context.Context) (map[OrderStatus]int, error)
	// AmountTotal returns the sum of all order amounts as a decimal string.
	AmountTotal(ctx context.Context) (string, error)
}
