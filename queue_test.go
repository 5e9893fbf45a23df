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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnight-artisan/artisan/config"
	"github.com/midnight-artisan/artisan/internal/apierror"
	"github.com/midnight-artisan/artisan/model"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	q, err := NewQueue(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{InvoiceQueue: config.DEFAULT_INVOICE_QUEUE, WebhookQueue: config.DEFAULT_WEBHOOK_QUEUE},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestAttemptID(t *testing.T) {
	assert.Equal(t, "task_1_attempt_0", AttemptID("task_1", 0))
	assert.Equal(t, "task_1_attempt_3", AttemptID("task_1", 3))
}

func TestQueue_SubmitAndFindTask(t *testing.T) {
	q, _ := newTestQueue(t)
	attempt := model.TaskAttempt{TaskID: "task_abc", OrderID: "ord_1", State: model.TaskPending, ScheduledFor: time.Now().UTC()}

	require.NoError(t, q.Submit(context.Background(), attempt))

	info, err := q.Inspector.GetTaskInfo(config.DEFAULT_INVOICE_QUEUE, AttemptID("task_abc", 0))
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, info.State)
	assert.Equal(t, leaseRedeliveries, info.MaxRetry)

	status, err := q.FindTask(context.Background(), "task_abc")
	require.NoError(t, err)
	assert.Equal(t, "ord_1", status.Attempt.OrderID)
	assert.Equal(t, 0, status.Attempt.Attempt)
	assert.Equal(t, "pending", status.QueueState)
}

func TestQueue_ScheduleAfterKeepsAttemptsApart(t *testing.T) {
	q, _ := newTestQueue(t)
	attempt := model.TaskAttempt{TaskID: "task_abc", OrderID: "ord_1"}
	require.NoError(t, q.Submit(context.Background(), attempt))

	attempt.Attempt = 1
	attempt.State = model.TaskRetrying
	require.NoError(t, q.ScheduleAfter(context.Background(), attempt, time.Minute))

	info, err := q.Inspector.GetTaskInfo(config.DEFAULT_INVOICE_QUEUE, AttemptID("task_abc", 1))
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)
	assert.True(t, info.NextProcessAt.After(time.Now().Add(30*time.Second)))

	status, err := q.FindTask(context.Background(), "task_abc")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Attempt.Attempt)
	assert.Equal(t, model.TaskRetrying, status.Attempt.State)
	require.NotNil(t, status.NextProcessAt)
}

func TestQueue_SubmitSameAttemptTwice(t *testing.T) {
	q, _ := newTestQueue(t)
	attempt := model.TaskAttempt{TaskID: "task_abc", OrderID: "ord_1"}
	require.NoError(t, q.Submit(context.Background(), attempt))

	err := q.Submit(context.Background(), attempt)
	assert.True(t, errors.Is(err, asynq.ErrTaskIDConflict))
}

func TestQueue_FindTaskUnknown(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.FindTask(context.Background(), "task_missing")
	assert.True(t, apierror.IsNotFound(err))
}

func TestArtisan_FindTaskThroughQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	a := NewArtisan(nil, q, Options{Transport: &scriptedTransport{}, Logger: quietLogger()})

	taskID, err := a.EnqueueInvoice(context.Background(), "ord_1")
	require.NoError(t, err)

	status, err := a.FindTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, status.Attempt.TaskID)
}

func TestInvoiceTaskHandler(t *testing.T) {
	proc := &scriptedProcessor{outcomes: []WorkflowOutcome{Success("", "Invoice sent to jane@example.com")}}
	s := NewTaskScheduler(&memoryQueue{}, proc, noJitterPolicy(), quietLogger())
	handler := NewInvoiceTaskHandler(s)

	payload, err := json.Marshal(model.TaskAttempt{TaskID: "task_1", OrderID: "ord_1"})
	require.NoError(t, err)
	err = handler.ProcessTask(context.Background(), asynq.NewTask(config.DEFAULT_INVOICE_QUEUE, payload))
	assert.NoError(t, err)
	assert.Equal(t, 1, proc.calls)
}

func TestInvoiceTaskHandler_BadPayload(t *testing.T) {
	s := NewTaskScheduler(&memoryQueue{}, &scriptedProcessor{outcomes: []WorkflowOutcome{Success("", "ok")}}, noJitterPolicy(), quietLogger())
	handler := NewInvoiceTaskHandler(s)

	err := handler.ProcessTask(context.Background(), asynq.NewTask(config.DEFAULT_INVOICE_QUEUE, []byte("{not json")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = handler.ProcessTask(context.Background(), asynq.NewTask(config.DEFAULT_INVOICE_QUEUE, []byte(`{"order_id":"ord_1"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
