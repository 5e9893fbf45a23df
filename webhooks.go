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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/midnight-artisan/artisan/config"
	"github.com/midnight-artisan/artisan/internal/notification"
	"github.com/midnight-artisan/artisan/internal/request"
	"github.com/midnight-artisan/artisan/model"
)

const (
	EventInvoiceSent      = "invoice.sent"
	EventInvoiceFailed    = "invoice.failed"
	EventInvoiceExhausted = "invoice.exhausted"
)

// webhookMaxRetry is how often asynq redelivers a webhook the receiver did not accept.
const webhookMaxRetry = 5

// NewWebhook is the body posted to the configured webhook URL.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// eventFromState maps a terminal task state to its webhook event.
func eventFromState(state model.TaskState) string {
	switch state {
	case model.TaskSucceeded:
		return EventInvoiceSent
	case model.TaskExhausted:
		return EventInvoiceExhausted
	case model.TaskPermanentlyFailed:
		return EventInvoiceFailed
	default:
		return ""
	}
}

// SendWebhook queues a webhook for delivery. It is a no-op when no webhook URL is configured.
func (q *Queue) SendWebhook(ctx context.Context, hook NewWebhook) error {
	if q.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{asynq.Queue(q.webhookQueue), asynq.MaxRetry(webhookMaxRetry)}
	task := asynq.NewTask(q.webhookQueue, payload, taskOptions...)
	if _, err := q.Client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue webhook %s: %w", hook.Event, err)
	}
	return nil
}

// processHTTP posts data to the webhook endpoint. A non-2xx answer is an error so asynq retries it.
func processHTTP(ctx context.Context, hook config.WebhookConfig, data NewWebhook) error {
	_, err := request.PostJSON(ctx, nil, hook.Url, hook.Headers, data, nil)
	if err != nil {
		return err
	}
	logrus.WithField("event", data.Event).Info("webhook notification sent")
	return nil
}

// ProcessWebhook is the asynq handler of the webhook queue.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode webhook: %v: %w", err, asynq.SkipRetry)
	}
	logrus.WithField("event", payload.Event).Debug("processing webhook")
	return processHTTP(ctx, conf.Notification.Webhook, payload)
}

// WebhookSender queues webhook notifications.
type WebhookSender interface {
	SendWebhook(ctx context.Context, hook NewWebhook) error
}

// EventReporter turns terminal task reports into webhooks and alerts operators on Slack
// when a task gives up after exhausting its retries.
type EventReporter struct {
	webhooks WebhookSender
	slack    *notification.Slack
	log      logrus.FieldLogger
}

func NewEventReporter(webhooks WebhookSender, slack *notification.Slack, log logrus.FieldLogger) *EventReporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EventReporter{webhooks: webhooks, slack: slack, log: log}
}

func (r *EventReporter) ReportTask(ctx context.Context, report TaskReport) {
	event := eventFromState(report.State)
	if event == "" {
		return
	}

	if r.webhooks != nil {
		hook := NewWebhook{Event: event, Payload: map[string]interface{}{
			"task_id":     report.TaskID,
			"order_id":    report.OrderID,
			"success":     report.Success,
			"message":     report.Message,
			"attempts":    report.Attempts,
			"reported_at": time.Now().UTC(),
		}}
		if err := r.webhooks.SendWebhook(ctx, hook); err != nil {
			r.log.WithError(err).WithField("order_id", report.OrderID).Warn("failed to queue webhook")
		}
	}

	if report.State == model.TaskExhausted && r.slack.Enabled() {
		r.slack.NotifyError("Invoice delivery gave up", errors.New(report.Message), map[string]string{
			"order_id": report.OrderID,
			"task_id":  report.TaskID,
			"attempts": strconv.Itoa(report.Attempts),
		})
	}
}
