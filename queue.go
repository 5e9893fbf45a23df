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
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/midnight-artisan/artisan/config"
	"github.com/midnight-artisan/artisan/internal/apierror"
	redis_db "github.com/midnight-artisan/artisan/internal/redis-db"
	"github.com/midnight-artisan/artisan/model"
)

// taskRetention keeps finished attempts visible to the inspector.
const taskRetention = 24 * time.Hour

// leaseRedeliveries is how often asynq may redeliver an attempt whose worker died before
// finishing it. The handler never returns a retryable error, so these are the only asynq
// retries; the retry schedule itself belongs to TaskScheduler.
const leaseRedeliveries = 1

// maxAttemptLookup bounds how many attempt IDs FindTask probes.
const maxAttemptLookup = 32

// Queue is the asynq-backed TaskQueue. Each attempt of an invoice task is its own asynq
// task with retries disabled: retrying is decided by the TaskScheduler.
type Queue struct {
	Client       *asynq.Client
	Inspector    *asynq.Inspector
	invoiceQueue string
	webhookQueue string
	webhookURL   string
}

// NewQueue connects a Queue to the Redis instance in conf.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{
		Client:       asynq.NewClient(opt),
		Inspector:    asynq.NewInspector(opt),
		invoiceQueue: conf.Queue.InvoiceQueue,
		webhookQueue: conf.Queue.WebhookQueue,
		webhookURL:   conf.Notification.Webhook.Url,
	}, nil
}

// Close releases the client and inspector connections.
func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

// AttemptID is the asynq task ID of one attempt. Distinct attempts of the same task never collide.
func AttemptID(taskID string, attempt int) string {
	return fmt.Sprintf("%s_attempt_%d", taskID, attempt)
}

func (q *Queue) Submit(ctx context.Context, attempt model.TaskAttempt) error {
	return q.enqueueAttempt(ctx, attempt, 0)
}

func (q *Queue) ScheduleAfter(ctx context.Context, attempt model.TaskAttempt, delay time.Duration) error {
	return q.enqueueAttempt(ctx, attempt, delay)
}

func (q *Queue) enqueueAttempt(ctx context.Context, attempt model.TaskAttempt, delay time.Duration) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(AttemptID(attempt.TaskID, attempt.Attempt)),
		asynq.Queue(q.invoiceQueue),
		asynq.MaxRetry(leaseRedeliveries),
		asynq.Retention(taskRetention),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(q.invoiceQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"task_id":  attempt.TaskID,
		"order_id": attempt.OrderID,
		"attempt":  attempt.Attempt,
		"state":    info.State.String(),
	}).Debug("invoice attempt enqueued")
	return nil
}

// TaskStatus is what the queue knows about the latest attempt of a task.
type TaskStatus struct {
	Attempt       model.TaskAttempt `json:"attempt"`
	QueueState    string            `json:"queue_state"`
	LastError     string            `json:"last_error,omitempty"`
	NextProcessAt *time.Time        `json:"next_process_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// FindTask returns the status of the most recent attempt of taskID.
func (q *Queue) FindTask(_ context.Context, taskID string) (*TaskStatus, error) {
	var latest *asynq.TaskInfo
	for n := 0; n < maxAttemptLookup; n++ {
		info, err := q.Inspector.GetTaskInfo(q.invoiceQueue, AttemptID(taskID, n))
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			break
		}
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrServiceUnavailable, "Failed to inspect task queue", err)
		}
		latest = info
	}
	if latest == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task %s not found", taskID), nil)
	}

	status := &TaskStatus{QueueState: latest.State.String(), LastError: latest.LastErr}
	if err := json.Unmarshal(latest.Payload, &status.Attempt); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode task payload", err)
	}
	if !latest.NextProcessAt.IsZero() {
		next := latest.NextProcessAt
		status.NextProcessAt = &next
	}
	if !latest.CompletedAt.IsZero() {
		done := latest.CompletedAt
		status.CompletedAt = &done
	}
	return status, nil
}

// NewInvoiceTaskHandler adapts the scheduler to an asynq handler. Only an undecodable
// payload is reported back to asynq; every other result is handled by the scheduler.
func NewInvoiceTaskHandler(scheduler *TaskScheduler) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var attempt model.TaskAttempt
		if err := json.Unmarshal(task.Payload(), &attempt); err != nil {
			return fmt.Errorf("decode invoice task: %v: %w", err, asynq.SkipRetry)
		}
		if attempt.TaskID == "" || attempt.OrderID == "" {
			return fmt.Errorf("invoice task without task or order id: %w", asynq.SkipRetry)
		}

		report := scheduler.Handle(ctx, attempt)
		if report.State == model.TaskRunning {
			return nil
		}
		if rw := task.ResultWriter(); rw != nil {
			if data, err := json.Marshal(report); err == nil {
				_, _ = rw.Write(data)
			}
		}
		return nil
	}
}
