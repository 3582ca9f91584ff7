package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

func init() {
	goose.AddMigrationContext(upAmountCents, downAmountCents)
}

// upAmountCents adds an integer cents column next to the decimal text amount so totals can be summed exactly.
func upAmountCents(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `ALTER TABLE orders ADD COLUMN amount_cents INTEGER NOT NULL DEFAULT 0`)
	if err != nil {
		return fmt.Errorf("adding amount_cents column : %w", err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT id, total_amount FROM orders")
	if err != nil {
		return fmt.Errorf("getting all orders: %w", err)
	}
	defer rows.Close()

	cents := make(map[int64]int64)
	for rows.Next() {
		var id int64
		var amountText sql.NullString
		if err := rows.Scan(&id, &amountText); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		if !amountText.Valid || amountText.String == "" {
			continue
		}
		amount, err := decimal.NewFromString(amountText.String)
		if err != nil {
			return fmt.Errorf("parsing amount for order %d : %w", id, err)
		}
		cents[id] = amount.Shift(2).Round(0).IntPart()
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rows: %w", err)
	}

	for id, value := range cents {
		_, err = tx.ExecContext(ctx, "UPDATE orders SET amount_cents = ? WHERE id = ?", value, id)
		if err != nil {
			return fmt.Errorf("updating order %d : %w", id, err)
		}
	}
	return nil
}

func downAmountCents(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE orders DROP COLUMN amount_cents`); err != nil {
		return fmt.Errorf("dropping amount_cents column : %w", err)
	}
	return nil
}
