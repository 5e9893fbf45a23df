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
	"embed"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/midnight-artisan/artisan/database"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Artisan wires the order store, the task queue and the invoice pipeline together.
type Artisan struct {
	datasource database.IDataSource
	queue      TaskQueue
	workflow   *InvoiceWorkflow
	scheduler  *TaskScheduler
	dispatcher *BulkDispatcher
	log        logrus.FieldLogger
}

// Options configures NewArtisan. Only Transport is required.
type Options struct {
	Transport   MailTransport
	MailTimeout time.Duration
	// Policy defaults to DefaultRetryPolicy when MaxRetries is zero.
	Policy   RetryPolicy
	Locker   AttemptLocker
	Reporter TaskReporter
	Logger   logrus.FieldLogger
}

// NewArtisan builds the service around db and queue.
func NewArtisan(db database.IDataSource, queue TaskQueue, opts Options) *Artisan {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	policy := opts.Policy
	if policy.MaxRetries == 0 {
		policy = DefaultRetryPolicy()
	}

	notifier := NewNotifier(opts.Transport, opts.MailTimeout, log.WithField("component", "notifier"))
	workflow := NewInvoiceWorkflow(db, notifier, log.WithField("component", "workflow"))

	var schedulerOpts []SchedulerOption
	if opts.Locker != nil {
		schedulerOpts = append(schedulerOpts, WithAttemptLocker(opts.Locker))
	}
	if opts.Reporter != nil {
		schedulerOpts = append(schedulerOpts, WithTaskReporter(opts.Reporter))
	}
	scheduler := NewTaskScheduler(queue, workflow, policy, log.WithField("component", "scheduler"), schedulerOpts...)

	return &Artisan{
		datasource: db,
		queue:      queue,
		workflow:   workflow,
		scheduler:  scheduler,
		dispatcher: NewBulkDispatcher(scheduler, log.WithField("component", "bulk")),
		log:        log,
	}
}

func (a *Artisan) Scheduler() *TaskScheduler {
	return a.scheduler
}

func (a *Artisan) Workflow() *InvoiceWorkflow {
	return a.workflow
}

// EnqueueInvoice queues the invoice of one order.
func (a *Artisan) EnqueueInvoice(ctx context.Context, orderID string) (string, error) {
	return a.scheduler.Enqueue(ctx, orderID)
}

// DispatchBulk queues one invoice task per order.
func (a *Artisan) DispatchBulk(ctx context.Context, orderIDs []string) BulkDispatchResult {
	return a.dispatcher.DispatchBulk(ctx, orderIDs)
}

type taskFinder interface {
	FindTask(ctx context.Context, taskID string) (*TaskStatus, error)
}

// FindTask looks a task up in the queue.
func (a *Artisan) FindTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	finder, ok := a.queue.(taskFinder)
	if !ok {
		return nil, ErrTaskLookupUnsupported
	}
	return finder.FindTask(ctx, taskID)
}
