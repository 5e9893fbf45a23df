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
	"context"
	"errors"

	"github.com/midnight-artisan/artisan/internal/apierror"
	"github.com/midnight-artisan/artisan/model"
)

const (
	OrderCreatedMessage  = "Order created successfully. Invoice will be sent shortly."
	OrderQueueingWarning = "Task queue unavailable"
	OrderDegradedMessage = "Order created successfully, but invoice queuing failed. Please retry later."
)

// OrderCreation is the result of CreateOrder. TaskID is empty and Warning set when the
// order was stored but its invoice could not be queued.
type OrderCreation struct {
	Order   *model.Order
	TaskID  string
	Message string
	Warning string
}

// CreateOrder stores the order, snapshotting prices and taking stock, then queues its invoice.
// A queue outage does not fail the call: the order exists and can be requeued later.
func (a *Artisan) CreateOrder(ctx context.Context, order model.Order, items []model.OrderItemRequest) (*OrderCreation, error) {
	if len(items) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Order must contain at least one item", nil)
	}

	created, err := a.datasource.CreateOrder(ctx, order, items)
	if err != nil {
		return nil, err
	}

	log := a.log.WithField("order_id", created.OrderID)
	log.Info("order created")

	taskID, err := a.scheduler.Enqueue(ctx, created.OrderID)
	if err != nil {
		if !errors.Is(err, ErrQueueUnavailable) {
			return nil, err
		}
		log.WithError(err).Error("failed to queue invoice task")
		return &OrderCreation{Order: created, Message: OrderDegradedMessage, Warning: OrderQueueingWarning}, nil
	}

	return &OrderCreation{Order: created, TaskID: taskID, Message: OrderCreatedMessage}, nil
}

func (a *Artisan) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return a.datasource.GetOrderByID(ctx, id)
}

func (a *Artisan) GetAllOrders(ctx context.Context, limit, offset int) ([]model.Order, error) {
	return a.datasource.GetAllOrders(ctx, limit, offset)
}

// ResendInvoice queues the invoice of an existing order again, whether or not it was sent before.
func (a *Artisan) ResendInvoice(ctx context.Context, orderID string) (string, error) {
	if _, err := a.datasource.GetOrderByID(ctx, orderID); err != nil {
		return "", err
	}
	return a.scheduler.Enqueue(ctx, orderID)
}
