package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tfkr-ae/orderproc/domain"
)

var _ domain.OrderRepository = (*Repository)(nil)

// dbOrder represents an order as stored in the database.
type dbOrder struct {
	ID          int64     `db:"id"`
	OrderNumber string    `db:"order_number"`
	Status      string    `db:"status"`
	TotalAmount string    `db:"total_amount"`
	AmountCents int64     `db:"amount_cents"`
	CustomerID  string    `db:"customer_id"`
	ProductID   string    `db:"product_id"`
	Quantity    int       `db:"quantity"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	Version     int64     `db:"version"`
}

const orderColumns = `id, order_number, status, total_amount, amount_cents, customer_id, product_id, quantity, created_at, updated_at, version`

const insertOrderQuery = `INSERT INTO orders (order_number, status, total_amount, amount_cents, customer_id, product_id, quantity, created_at, updated_at, version)
	VALUES (:order_number, :status, :total_amount, :amount_cents, :customer_id, :product_id, :quantity, :created_at, :updated_at, :version)`

// fromDomainOrder converts a domain.Order to a dbOrder.
func fromDomainOrder(order *domain.Order) *dbOrder {
	return &dbOrder{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount.String(),
		AmountCents: order.TotalAmount.Shift(2).Round(0).IntPart(),
		CustomerID:  order.CustomerID,
		ProductID:   order.ProductID,
		Quantity:    order.Quantity,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
		Version:     order.Version,
	}
}

// toDomainOrder converts a dbOrder to a domain.Order.
// An unparsable amount is reported as zero rather than failing the whole read.
func toDomainOrder(row *dbOrder) *domain.Order {
	amount, err := decimal.NewFromString(row.TotalAmount)
	if err != nil {
		amount = decimal.Zero
	}
	return &domain.Order{
		ID:          row.ID,
		OrderNumber: row.OrderNumber,
		Status:      domain.OrderStatus(row.Status),
		TotalAmount: amount,
		CustomerID:  row.CustomerID,
		ProductID:   row.ProductID,
		Quantity:    row.Quantity,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		Version:     row.Version,
	}
}

func toDomainOrders(rows []*dbOrder) []*domain.Order {
	orders := make([]*domain.Order, len(rows))
	for i, row := range rows {
		orders[i] = toDomainOrder(row)
	}
	return orders
}

// stampForInsert sets the defaults a freshly inserted order carries.
func stampForInsert(order *domain.Order, now time.Time) {
	if order.Status == "" {
		order.Status = domain.StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 0
}

// Save inserts a new order when order.ID is zero, otherwise it updates the existing row.
// Updates only succeed when the stored version matches order.Version.
func (repo *Repository) Save(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	if order.ID == 0 {
		stampForInsert(order, now)
		result, err := repo.dbConn.NamedExecContext(ctx, insertOrderQuery, fromDomainOrder(order))
		if err != nil {
			return fmt.Errorf("inserting order %s : %w", order.OrderNumber, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("fetching id for order %s : %w", order.OrderNumber, err)
		}
		order.ID = id
		return nil
	}

	row := fromDomainOrder(order)
	row.UpdatedAt = now
	query := `UPDATE orders SET
				order_number = :order_number,
				status = :status,
				total_amount = :total_amount,
				amount_cents = :amount_cents,
				customer_id = :customer_id,
				product_id = :product_id,
				quantity = :quantity,
				updated_at = :updated_at,
				version = version + 1
			  WHERE id = :id AND version = :version`

	result, err := repo.dbConn.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("updating order %d : %w", order.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := repo.FindByID(ctx, order.ID); err != nil {
			return err
		}
		return fmt.Errorf("updating order %d at version %d : %w", order.ID, order.Version, domain.ErrVersionConflict)
	}

	order.UpdatedAt = now
	order.Version++
	return nil
}

// SaveAll inserts all orders inside one transaction and assigns the generated ids back to them.
// Either every order is stored or none is.
func (repo *Repository) SaveAll(ctx context.Context, orders []*domain.Order) (err error) {
	if len(orders) == 0 {
		return nil
	}

	tx, err := repo.dbConn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch transaction : %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareNamedContext(ctx, insertOrderQuery)
	if err != nil {
		return fmt.Errorf("preparing batch insert : %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	ids := make([]int64, len(orders))
	for i, order := range orders {
		stamped := *order
		stampForInsert(&stamped, now)
		result, err := stmt.ExecContext(ctx, fromDomainOrder(&stamped))
		if err != nil {
			return fmt.Errorf("inserting order %s in batch : %w", order.OrderNumber, err)
		}
		ids[i], err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("fetching id for order %s : %w", order.OrderNumber, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing batch of %d orders : %w", len(orders), err)
	}

	for i, order := range orders {
		stampForInsert(order, now)
		order.ID = ids[i]
	}
	return nil
}

// FindByID retrieves a single order by its id.
func (repo *Repository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	var row dbOrder
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	err := repo.dbConn.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %d : %w", id, domain.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("getting order %d : %w", id, err)
	}
	return toDomainOrder(&row), nil
}

// FindByOrderNumber retrieves a single order by its order number.
func (repo *Repository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	var row dbOrder
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = ?`

	err := repo.dbConn.GetContext(ctx, &row, query, orderNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s : %w", orderNumber, domain.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("getting order %s : %w", orderNumber, err)
	}
	return toDomainOrder(&row), nil
}

// filterClause builds the WHERE clause and its arguments for an order filter.
func filterClause(filter domain.OrderFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Search != "" {
		// LIKE is case-insensitive for ASCII in SQLite.
		pattern := "%" + escapeLike(filter.Search) + "%"
		conditions = append(conditions, `(order_number LIKE ? ESCAPE '\' OR customer_id LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

// FindAll retrieves one page of orders matching the filter.
func (repo *Repository) FindAll(ctx context.Context, filter domain.OrderFilter) (domain.Page[*domain.Order], error) {
	filter = filter.Normalize()
	where, args := filterClause(filter)

	var total int
	err := repo.dbConn.GetContext(ctx, &total, `SELECT COUNT(*) FROM orders`+where, args...)
	if err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("counting orders : %w", err)
	}

	var rows []*dbOrder
	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY id ASC LIMIT ? OFFSET ?`
	pageArgs := append(args, filter.Size, filter.Page*filter.Size)

	err = repo.dbConn.SelectContext(ctx, &rows, query, pageArgs...)
	if err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("listing orders : %w", err)
	}

	return domain.NewPage(toDomainOrders(rows), filter.Page, filter.Size, total), nil
}

// FindByStatus retrieves the orders in a status, or every order when status is nil.
func (repo *Repository) FindByStatus(ctx context.Context, status *domain.OrderStatus, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = -1
	}

	var rows []*dbOrder
	var err error
	if status == nil {
		query := `SELECT ` + orderColumns + ` FROM orders ORDER BY id ASC LIMIT ?`
		err = repo.dbConn.SelectContext(ctx, &rows, query, limit)
	} else {
		query := `SELECT ` + orderColumns + ` FROM orders WHERE status = ? ORDER BY id ASC LIMIT ?`
		err = repo.dbConn.SelectContext(ctx, &rows, query, string(*status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("getting orders by status : %w", err)
	}

	return toDomainOrders(rows), nil
}

// FindRecentByStatus retrieves orders in a status that were created at or after since.
func (repo *Repository) FindRecentByStatus(ctx context.Context, status domain.OrderStatus, since time.Time) ([]*domain.Order, error) {
	var rows []*dbOrder
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = ? AND created_at >= ? ORDER BY id ASC`

	err := repo.dbConn.SelectContext(ctx, &rows, query, string(status), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("getting recent %s orders : %w", status, err)
	}
	return toDomainOrders(rows), nil
}

// UpdateStatus sets the status of an order, bumping its version, and returns the rows affected.
func (repo *Repository) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (int64, error) {
	query := `UPDATE orders SET status = ?, updated_at = ?, version = version + 1 WHERE id = ?`

	result, err := repo.dbConn.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("updating status of order %d : %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fetching rows affected: %w", err)
	}
	return rowsAffected, nil
}

// Delete removes an order from the database.
func (repo *Repository) Delete(ctx context.Context, id int64) error {
	result, err := repo.dbConn.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting order %d : %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("order %d : %w", id, domain.ErrOrderNotFound)
	}
	return nil
}

// DeleteAll removes every order.
func (repo *Repository) DeleteAll(ctx context.Context) error {
	if _, err := repo.dbConn.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return fmt.Errorf("deleting all orders : %w", err)
	}
	return nil
}
