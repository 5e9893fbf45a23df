package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/midnight-artisan/artisan/internal/apierror"
	"github.com/midnight-artisan/artisan/model"
)

func orderCacheKey(id string) string {
	return fmt.Sprintf("order:%s", id)
}

// CreateOrder stores a new order. For every requested item it decrements stock with a single
// conditional UPDATE and copies the product's current name and price into the line item,
// all inside one transaction.
func (d Datasource) CreateOrder(ctx context.Context, order model.Order, items []model.OrderItemRequest) (*model.Order, error) {
	ctx, span := otel.Tracer("artisan.database").Start(ctx, "Saving order to db")
	defer span.End()

	order.OrderID = model.GenerateUUIDWithSuffix("ord")
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	order.InvoiceSent = false
	order.Items = make([]model.LineItem, 0, len(items))

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, req := range items {
		item := model.LineItem{ProductID: req.ProductID, Quantity: req.Quantity}
		err = tx.QueryRowContext(ctx, `
			UPDATE artisan.inventory
			SET stock_quantity = stock_quantity - $1, updated_at = NOW()
			WHERE product_id = $2 AND stock_quantity >= $1
			RETURNING product_name, product_price
		`, req.Quantity, req.ProductID).Scan(&item.ProductName, &item.PriceAtPurchase)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = d.stockError(ctx, tx, req)
				return nil, err
			}
			err = apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve stock", err)
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artisan.orders (order_id, customer_name, customer_email, invoice_sent, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, $4)
	`, order.OrderID, order.CustomerName, order.CustomerEmail, order.CreatedAt)
	if err != nil {
		err = mapWriteError(err, "Order with this ID already exists", "Failed to create order")
		return nil, err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO artisan.order_items (order_id, product_id, product_name, quantity, price_at_purchase)
			VALUES ($1, $2, $3, $4, $5)
		`, order.OrderID, item.ProductID, item.ProductName, item.Quantity, item.PriceAtPurchase)
		if err != nil {
			err = mapWriteError(err, "Product appears more than once in the order", "Failed to save order item")
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit order", err)
	}

	return &order, nil
}

// stockError distinguishes a missing product from one without enough stock.
func (d Datasource) stockError(ctx context.Context, tx *sql.Tx, req model.OrderItemRequest) error {
	var available int64
	err := tx.QueryRowContext(ctx, `
		SELECT stock_quantity FROM artisan.inventory WHERE product_id = $1
	`, req.ProductID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Product %s not found", req.ProductID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check stock", err)
	}
	return apierror.NewAPIError(apierror.ErrInsufficientStock,
		fmt.Sprintf("Insufficient stock for product %s: requested %d, available %d", req.ProductID, req.Quantity, available), nil)
}

func mapWriteError(err error, conflictMessage, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return apierror.NewAPIError(apierror.ErrConflict, conflictMessage, err)
		case "foreign_key_violation":
			return apierror.NewAPIError(apierror.ErrNotFound, "Referenced record not found", err)
		}
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
}

// GetOrderByID returns the order and its line items. Reads go through the cache when one is configured.
func (d Datasource) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	ctx, span := otel.Tracer("artisan.database").Start(ctx, "Fetching order from db")
	defer span.End()

	if cached, ok := d.cachedOrder(ctx, id); ok {
		return cached, nil
	}

	order := model.Order{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT order_id, customer_name, customer_email, invoice_sent, created_at, updated_at
		FROM artisan.orders
		WHERE order_id = $1
	`, id).Scan(&order.OrderID, &order.CustomerName, &order.CustomerEmail, &order.InvoiceSent, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order %s not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, price_at_purchase
		FROM artisan.order_items
		WHERE order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order items", err)
	}
	defer rows.Close()

	order.Items = []model.LineItem{}
	for rows.Next() {
		var item model.LineItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.PriceAtPurchase); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order item", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over order items", err)
	}

	d.cacheOrder(ctx, &order)
	return &order, nil
}

func (d Datasource) cachedOrder(ctx context.Context, id string) (*model.Order, bool) {
	if d.Cache == nil {
		return nil, false
	}
	var raw []byte
	found, err := d.Cache.Get(ctx, orderCacheKey(id), &raw)
	if err != nil || !found {
		if err != nil {
			logrus.WithError(err).WithField("order_id", id).Warn("order cache read failed")
		}
		return nil, false
	}
	var order model.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, false
	}
	return &order, true
}

func (d Datasource) cacheOrder(ctx context.Context, order *model.Order) {
	if d.Cache == nil {
		return
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return
	}
	if err := d.Cache.Set(ctx, orderCacheKey(order.OrderID), raw, orderCacheTTL); err != nil {
		logrus.WithError(err).WithField("order_id", order.OrderID).Warn("order cache write failed")
	}
}

// GetAllOrders lists orders, newest first. Line items are not loaded.
func (d Datasource) GetAllOrders(ctx context.Context, limit, offset int) ([]model.Order, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT order_id, customer_name, customer_email, invoice_sent, created_at, updated_at
		FROM artisan.orders
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve orders", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// MarkInvoiceSent flips invoice_sent to true. The statement never writes false, so
// concurrent or repeated calls cannot move the flag backwards.
func (d Datasource) MarkInvoiceSent(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("artisan.database").Start(ctx, "Marking invoice sent")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE artisan.orders
		SET invoice_sent = TRUE, updated_at = NOW()
		WHERE order_id = $1
	`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark invoice as sent", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order %s not found", id), nil)
	}

	if d.Cache != nil {
		if err := d.Cache.Delete(ctx, orderCacheKey(id)); err != nil {
			logrus.WithError(err).WithField("order_id", id).Warn("order cache invalidation failed")
		}
	}
	return nil
}

// GetUninvoicedOrders returns up to limit orders created at or before createdBefore whose
// invoice has not been sent, oldest first.
func (d Datasource) GetUninvoicedOrders(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT order_id, customer_name, customer_email, invoice_sent, created_at, updated_at
		FROM artisan.orders
		WHERE invoice_sent = FALSE AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve uninvoiced orders", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	orders := []model.Order{}
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.OrderID, &o.CustomerName, &o.CustomerEmail, &o.InvoiceSent, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order data", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over orders", err)
	}
	return orders, nil
}
