package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is an inventory record. Orders copy its name and price at purchase time.
type Product struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	ProductPrice  decimal.Decimal `json:"product_price"`
	StockQuantity int64           `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LineItem is an immutable snapshot of a product taken when the order was created.
type LineItem struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int64           `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// Subtotal returns quantity × unit price.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.PriceAtPurchase.Mul(decimal.NewFromInt(l.Quantity))
}

// Order is a customer order together with its line items.
// InvoiceSent only ever moves from false to true.
type Order struct {
	OrderID       string     `json:"order_id"`
	CustomerName  string     `json:"customer_name"`
	CustomerEmail string     `json:"customer_email"`
	Items         []LineItem `json:"items"`
	InvoiceSent   bool       `json:"invoice_sent"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Total is the sum of the line item subtotals. An order without items totals zero.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// OrderItemRequest names a product and quantity when placing an order.
type OrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}
