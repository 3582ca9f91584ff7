package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseOrderStatus(t *testing.T) {
	t.Run("should accept known statuses regardless of case", func(t *testing.T) {
		got, err := ParseOrderStatus(" completed ")
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if got != StatusCompleted {
			t.Fatalf("\nwanted:\n%s\ngot:\n%s", StatusCompleted, got)
		}
	})

	t.Run("should reject unknown statuses", func(t *testing.T) {
		_, err := ParseOrderStatus("SHIPPED")
		if !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrInvalidStatus, err)
		}
	})
}

func TestOrder_Validate(t *testing.T) {
	valid := func() *Order {
		return &Order{
			OrderNumber: "TEST-001",
			Status:      StatusPending,
			TotalAmount: decimal.RequireFromString("100.00"),
			CustomerID:  "CUST-001",
			ProductID:   "PROD-001",
			Quantity:    1,
		}
	}

	tests := []struct {
		name   string
		mutate func(o *Order)
		want   error
	}{
		{name: "valid order", mutate: func(o *Order) {}, want: nil},
		{name: "empty status is allowed", mutate: func(o *Order) { o.Status = "" }, want: nil},
		{name: "missing order number", mutate: func(o *Order) { o.OrderNumber = "  " }, want: ErrInvalidOrder},
		{name: "order number too long", mutate: func(o *Order) { o.OrderNumber = strings.Repeat("x", 65) }, want: ErrInvalidOrder},
		{name: "negative quantity", mutate: func(o *Order) { o.Quantity = -1 }, want: ErrInvalidOrder},
		{name: "negative amount", mutate: func(o *Order) { o.TotalAmount = decimal.NewFromInt(-5) }, want: ErrInvalidOrder},
		{name: "unknown status", mutate: func(o *Order) { o.Status = "LOST" }, want: ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := valid()
			tt.mutate(order)
			err := order.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("\nwanted:\n%v\ngot:\n%v", tt.want, err)
			}
		})
	}
}

func TestOrder_JSONFieldNames(t *testing.T) {
	order := &Order{ID: 1, OrderNumber: "TEST-001", Status: StatusPending, TotalAmount: decimal.RequireFromString("100.00"), CustomerID: "CUST-001"}

	raw, err := json.Marshal(order)
	if err != nil {
		t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
	}

	for _, field := range []string{`"orderNumber":"TEST-001"`, `"customerId":"CUST-001"`, `"totalAmount":"100"`, `"status":"PENDING"`} {
		if !strings.Contains(string(raw), field) {
			t.Fatalf("\nwanted:\n%s in output\ngot:\n%s", field, raw)
		}
	}
}

func TestOrderFilter_Normalize(t *testing.T) {
	got := OrderFilter{Page: -3, Size: 500, Search: "  cust "}.Normalize()
	if got.Page != 0 || got.Size != MaxPageSize || got.Search != "cust" {
		t.Fatalf("\nwanted:\npage 0, size %d, search cust\ngot:\n%+v", MaxPageSize, got)
	}

	got = OrderFilter{Size: 0}.Normalize()
	if got.Size != DefaultPageSize {
		t.Fatalf("\nwanted:\n%d\ngot:\n%d", DefaultPageSize, got.Size)
	}
}

func TestNewPage(t *testing.T) {
	page := NewPage[int](nil, 0, 10, 21)
	if page.TotalPages != 3 {
		t.Fatalf("\nwanted:\n3\ngot:\n%d", page.TotalPages)
	}
	if page.Content == nil {
		t.Fatalf("\nwanted:\nempty slice\ngot:\nnil")
	}
}
