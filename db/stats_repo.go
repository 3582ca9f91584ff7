package db

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tfkr-ae/orderproc/domain"
)

var _ domain.StatsRepository = (*Repository)(nil)

// CountOrders returns the total number of orders stored in the repository.
func (repo *Repository) CountOrders(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM orders`

	err := repo.dbConn.GetContext(ctx, &count, query)
	if err != nil {
		return 0, fmt.Errorf("getting order count: %w", err)
	}

	return count, nil
}

// CountByStatus returns the number of orders grouped by status.
func (repo *Repository) CountByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM orders GROUP BY status`

	err := repo.dbConn.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, fmt.Errorf("getting status distribution: %w", err)
	}

	counts := make(map[domain.OrderStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.OrderStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// AmountTotal returns the exact sum of all order amounts, to the cent.
func (repo *Repository) AmountTotal(ctx context.Context) (string, error) {
	var cents int64
	query := `SELECT COALESCE(SUM(amount_cents), 0) FROM orders`

	err := repo.dbConn.GetContext(ctx, &cents, query)
	if err != nil {
		return "", fmt.Errorf("getting amount total: %w", err)
	}

	return decimal.New(cents, -2).StringFixed(2), nil
}
