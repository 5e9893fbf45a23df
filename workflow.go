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
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/midnight-artisan/artisan/internal/apierror"
	"github.com/midnight-artisan/artisan/model"
)

var workflowTracer = otel.Tracer("artisan.invoice.workflow")

// OrderStore is the slice of the datastore the invoice workflow needs.
type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*model.Order, error)
	MarkInvoiceSent(ctx context.Context, id string) error
}

// InvoiceWorkflow renders, sends and records the invoice for one order.
type InvoiceWorkflow struct {
	store    OrderStore
	notifier *Notifier
	log      logrus.FieldLogger
}

func NewInvoiceWorkflow(store OrderStore, notifier *Notifier, log logrus.FieldLogger) *InvoiceWorkflow {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &InvoiceWorkflow{store: store, notifier: notifier, log: log}
}

// InvoiceSubject is the subject line of the invoice email for orderID.
func InvoiceSubject(orderID string) string {
	return fmt.Sprintf("Invoice for Order #%s", model.ShortID(orderID, 8))
}

// Process runs the workflow for orderID and never panics or returns an error: every
// failure is reported through the outcome. The order is only marked as invoiced after
// the mail transport has accepted the message. Running Process again for an order that
// was already invoiced sends the invoice again.
func (w *InvoiceWorkflow) Process(ctx context.Context, orderID string) WorkflowOutcome {
	ctx, span := workflowTracer.Start(ctx, "Process invoice")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	log := w.log.WithField("order_id", orderID)

	order, err := w.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if apierror.IsNotFound(err) {
			log.Warn("order not found, invoice will not be sent")
			span.SetStatus(codes.Error, "order not found")
			return NotFound(orderID)
		}
		log.WithError(err).Error("failed to load order")
		span.RecordError(err)
		return TransientFailure(orderID, fmt.Sprintf("failed to load order: %v", err))
	}

	body := RenderInvoice(order)
	log.WithField("characters", len(body)).Debug("invoice rendered")

	if err := w.notifier.Send(ctx, order.CustomerEmail, InvoiceSubject(order.OrderID), body); err != nil {
		span.RecordError(err)
		if IsTransient(err) {
			return TransientFailure(orderID, err.Error())
		}
		return PermanentFailure(orderID, err.Error())
	}

	if err := w.store.MarkInvoiceSent(ctx, orderID); err != nil {
		// The email is out but the flag is not; a retry may send a duplicate.
		log.WithError(err).Error("invoice sent but order could not be marked")
		span.RecordError(err)
		return TransientFailure(orderID, fmt.Sprintf("failed to mark invoice sent: %v", err))
	}

	log.Info("invoice sent")
	return Success(orderID, fmt.Sprintf("Invoice sent to %s", order.CustomerEmail))
}
