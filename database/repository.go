package database

import (
	"context"
	"time"

	"github.com/midnight-artisan/artisan/model"
)

// IDataSource defines the storage operations used by the service.
type IDataSource interface {
	order
	inventory
}

// order defines methods for handling orders.
type order interface {
	CreateOrder(ctx context.Context, order model.Order, items []model.OrderItemRequest) (*model.Order, error) // Creates an order, snapshotting prices and decrementing stock
	GetOrderByID(ctx context.Context, id string) (*model.Order, error)                                      // Retrieves an order with its line items
	GetAllOrders(ctx context.Context, limit, offset int) ([]model.Order, error)                             // Lists orders, newest first, without line items
	MarkInvoiceSent(ctx context.Context, id string) error                                                   // Sets invoice_sent to true
	GetUninvoicedOrders(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error)     // Oldest orders still waiting for an invoice
}

// inventory defines methods for handling products.
type inventory interface {
	CreateProduct(ctx context.Context, product model.Product) (model.Product, error)
	GetProductByID(ctx context.Context, id string) (*model.Product, error)
	GetAllProducts(ctx context.Context, limit, offset int) ([]model.Product, error)
}
