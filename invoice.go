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

package artisan

import (
	"fmt"
	"strings"

	"github.com/midnight-artisan/artisan/model"
)

const (
	invoiceWidth      = 60
	invoiceDateLayout = "January 02, 2006 03:04 PM"
	itemNameWidth     = 30
)

// RenderInvoice formats an order as a plain-text invoice. It has no side effects and
// the same order always renders to the same text. Every line item takes exactly one row.
func RenderInvoice(order *model.Order) string {
	heavy := strings.Repeat("=", invoiceWidth)
	light := strings.Repeat("-", invoiceWidth)

	lines := []string{
		heavy,
		"INVOICE",
		heavy,
		"",
		fmt.Sprintf("Order ID: %s", order.OrderID),
		fmt.Sprintf("Date: %s", order.CreatedAt.Format(invoiceDateLayout)),
		"",
		light,
		"CUSTOMER INFORMATION",
		light,
		fmt.Sprintf("Name: %s", order.CustomerName),
		fmt.Sprintf("Email: %s", order.CustomerEmail),
		"",
		light,
		"ORDER ITEMS",
		light,
		fmt.Sprintf("%-30s %-5s %-10s %-10s", "Item", "Qty", "Price", "Subtotal"),
		light,
	}

	for _, item := range order.Items {
		lines = append(lines, fmt.Sprintf("%-30s %-5d $%-9s $%-9s",
			truncate(item.ProductName, itemNameWidth),
			item.Quantity,
			item.PriceAtPurchase.StringFixed(2),
			item.Subtotal().StringFixed(2),
		))
	}

	lines = append(lines,
		light,
		fmt.Sprintf("%-46s $%9s", "TOTAL", order.Total().StringFixed(2)),
		heavy,
		"",
		"Thank you for your order!",
		"",
	)
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
