package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusFailed     OrderStatus = "FAILED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}

// ParseOrderStatus converts s into an OrderStatus, ignoring case and surrounding whitespace.
func ParseOrderStatus(s string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Valid reports whether the status is one of the known values.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

const maxOrderNumberLength = 64

// Order is a customer order tracked by the service.
type Order struct {
	ID          int64           `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	Status      OrderStatus     `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CustomerID  string          `json:"customerId"`
	ProductID   string          `json:"productId"`
	Quantity    int             `json:"quantity"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Version     int64           `json:"version"`
}

// Validate checks the fields a client is allowed to set.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.OrderNumber) == "" {
		return fmt.Errorf("%w: order number is required", ErrInvalidOrder)
	}
	if len(o.OrderNumber) > maxOrderNumberLength {
		return fmt.Errorf("%w: order number longer than %d characters", ErrInvalidOrder, maxOrderNumberLength)
	}
	if o.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidOrder)
	}
	if o.TotalAmount.IsNegative() {
		return fmt.Errorf("%w: total amount must not be negative", ErrInvalidOrder)
	}
	if o.Status != "" && !o.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, o.Status)
	}
	return nil
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// OrderFilter narrows and pages an order listing.
type OrderFilter struct {
	Status *OrderStatus // Only orders in this status, nil for all.
	Search string       // Case-insensitive substring of the order number or customer id.
	Since  time.Time    // Only orders created at or after this time, zero for all.
	Page   int          // Zero based page index.
	Size   int          // Page size, clamped to 1..MaxPageSize.
}

// Normalize clamps paging values into their allowed ranges.
func (f OrderFilter) Normalize() OrderFilter {
	if f.Page < 0 {
		f.Page = 0
	}
	switch {
	case f.Size <= 0:
		f.Size = DefaultPageSize
	case f.Size > MaxPageSize:
		f.Size = MaxPageSize
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// Page is one slice of a larger result set.
type Page[T any] struct {
	Content       []T `json:"content"`
	Page          int `json:"page"`
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
}

// NewPage builds a Page and derives the total page count.
func NewPage[T any](content []T, page, size, total int) Page[T] {
	if content == nil {
		content = []T{}
	}
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return Page[T]{Content: content, Page: page, Size: size, TotalElements: total, TotalPages: pages}
}

// OrderRepository defines persistence for orders.
type OrderRepository interface {
	// Save inserts the order when its ID is zero, otherwise updates it.
	// Updates are guarded by Version and return ErrVersionConflict on mismatch.
	Save(ctx context.Context, order *Order) error

	// SaveAll inserts all orders in a single transaction and assigns their IDs.
	SaveAll(ctx context.Context, orders []*Order) error

	// FindByID returns ErrOrderNotFound if the order does not exist.
	FindByID(ctx context.Context, id int64) (*Order, error)

	// FindByOrderNumber returns ErrOrderNotFound if the order does not exist.
	FindByOrderNumber(ctx context.Context, orderNumber string) (*Order, error)

	// FindAll returns one page of orders matching the filter, ordered by id.
	FindAll(ctx context.Context, filter OrderFilter) (Page[*Order], error)

	// FindByStatus returns orders in the given status ordered by id. A nil status returns all orders.
	// A limit of zero or less means no limit.
	FindByStatus(ctx context.Context, status *OrderStatus, limit int) ([]*Order, error)

	// FindRecentByStatus returns orders in the given status created at or after since.
	FindRecentByStatus(ctx context.Context, status OrderStatus, since time.Time) ([]*Order, error)

	// UpdateStatus sets the status of an order and returns the number of rows affected.
	UpdateStatus(ctx context.Context, id int64, status OrderStatus) (int64, error)

	// Delete removes an order, returning ErrOrderNotFound if it does not exist.
	Delete(ctx context.Context, id int64) error

	// DeleteAll removes every order.
	DeleteAll(ctx context.Context) error
}
