package stress

import (
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tfkr-ae/orderproc/domain"
)

var simpleAmount = decimal.RequireFromString("100.00")

// generateOrder builds a synthetic order of the given type.
func generateOrder(orderType domain.OrderType) *domain.Order {
	order := &domain.Order{
		OrderNumber: "STRESS-" + uuid.NewString(),
		CustomerID:  "CUST-" + shortID(),
		ProductID:   "PROD-" + shortID(),
		Quantity:    1,
		TotalAmount: simpleAmount,
		Status:      domain.StatusPending,
	}
	if orderType == domain.OrderTypeComplex {
		// unit price between 10.00 and 250.00
		unitCents := 1000 + rand.Int64N(24001)
		order.Quantity = 1 + rand.IntN(5)
		order.TotalAmount = decimal.New(unitCents*int64(order.Quantity), -2)
	}
	return order
}

func generateBatch(orderType domain.OrderType, size int) []*domain.Order {
	orders := make([]*domain.Order, size)
	for i := range orders {
		orders[i] = generateOrder(orderType)
	}
	return orders
}

func shortID() string {
	return uuid.NewString()[:8]
}
