/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"

	"github.com/midnight-artisan/artisan/model"
)

// maxBulkOrders bounds a single bulk dispatch request.
const maxBulkOrders = 1000

type CreateProduct struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	ProductPrice  decimal.Decimal `json:"product_price"`
	StockQuantity int64           `json:"stock_quantity"`
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type CreateOrder struct {
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	Items         []OrderItem `json:"items"`
}

type BulkInvoice struct {
	OrderIDs []string `json:"order_ids"`
}

type RequeueInvoices struct {
	Limit int `json:"limit"`
}

func positivePrice(value interface{}) error {
	price, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid price")
	}
	if !price.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

func (p *CreateProduct) ValidateCreateProduct() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ProductName, validation.Required, validation.Length(1, 255)),
		validation.Field(&p.ProductPrice, validation.By(positivePrice)),
		validation.Field(&p.StockQuantity, validation.Min(int64(0))),
	)
}

func (p *CreateProduct) ToProduct() model.Product {
	return model.Product{
		ProductID:     p.ProductID,
		ProductName:   p.ProductName,
		ProductPrice:  p.ProductPrice,
		StockQuantity: p.StockQuantity,
	}
}

func (i OrderItem) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.ProductID, validation.Required),
		validation.Field(&i.Quantity, validation.Required, validation.Min(int64(1))),
	)
}

// uniqueProducts rejects orders naming the same product twice.
func uniqueProducts(value interface{}) error {
	items, _ := value.([]OrderItem)
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.ProductID] {
			return fmt.Errorf("product %s appears more than once", item.ProductID)
		}
		seen[item.ProductID] = true
	}
	return nil
}

func (o *CreateOrder) ValidateCreateOrder() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.CustomerName, validation.Required, validation.Length(1, 255)),
		validation.Field(&o.CustomerEmail, validation.Required, is.EmailFormat),
		validation.Field(&o.Items, validation.Required, validation.By(uniqueProducts)),
	)
}

func (o *CreateOrder) ToOrder() (model.Order, []model.OrderItemRequest) {
	items := make([]model.OrderItemRequest, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, model.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return model.Order{CustomerName: o.CustomerName, CustomerEmail: o.CustomerEmail}, items
}

func (b *BulkInvoice) ValidateBulkInvoice() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.OrderIDs, validation.Required, validation.Length(1, maxBulkOrders), validation.Each(validation.Required)),
	)
}

func (r *RequeueInvoices) ValidateRequeueInvoices() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Limit, validation.Min(0), validation.Max(maxBulkOrders)),
	)
}
