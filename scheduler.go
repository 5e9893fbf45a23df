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
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/midnight-artisan/artisan/config"
	redlock "github.com/midnight-artisan/artisan/internal/lock"
	"github.com/midnight-artisan/artisan/model"
)

var schedulerTracer = otel.Tracer("artisan.invoice.scheduler")

// TaskQueue carries task attempts to the workers. Submit makes an attempt runnable now,
// ScheduleAfter makes it runnable once delay has passed.
type TaskQueue interface {
	Submit(ctx context.Context, attempt model.TaskAttempt) error
	ScheduleAfter(ctx context.Context, attempt model.TaskAttempt, delay time.Duration) error
}

// Processor runs the invoice workflow for one order.
type Processor interface {
	Process(ctx context.Context, orderID string) WorkflowOutcome
}

// AttemptLocker claims one attempt of a task so that a redelivery of the same attempt is
// dropped while it runs. Acquire returns redlock.ErrLockHeld when the attempt is already
// claimed. The returned release ends the claim; a claim whose holder died expires on its own.
type AttemptLocker interface {
	Acquire(ctx context.Context, taskID string, attempt int) (release func(context.Context) error, err error)
}

// TaskReporter receives the report of every task that reached a terminal state.
type TaskReporter interface {
	ReportTask(ctx context.Context, report TaskReport)
}

// RetryPolicy decides how often and how long to wait before retrying a transient failure.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxJitter  time.Duration

	// Jitter returns a value in [0, max). Nil uses math/rand.
	Jitter func(max time.Duration) time.Duration
}

// DefaultRetryPolicy allows 3 retries, doubling from 1s up to 10 minutes, plus up to 1s of jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   600 * time.Second,
		MaxJitter:  time.Second,
	}
}

// RetryPolicyFromConfig builds a policy from the invoice settings.
func RetryPolicyFromConfig(cfg config.InvoiceConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.BaseBackoffSec > 0 {
		p.BaseDelay = time.Duration(cfg.BaseBackoffSec) * time.Second
	}
	if cfg.MaxBackoffSec > 0 {
		p.MaxDelay = time.Duration(cfg.MaxBackoffSec) * time.Second
	}
	if cfg.MaxJitterSec >= 0 {
		p.MaxJitter = time.Duration(cfg.MaxJitterSec) * time.Second
	}
	return p
}

// Backoff returns min(MaxDelay, BaseDelay * 2^attempt), without jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Delay is Backoff plus a random jitter in [0, MaxJitter).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.Backoff(attempt) + p.jitter()
}

func (p RetryPolicy) jitter() time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	if p.Jitter != nil {
		return p.Jitter(p.MaxJitter)
	}
	return time.Duration(rand.Int63n(int64(p.MaxJitter)))
}

// Decision is the result of Transition.
type Decision struct {
	Next  model.TaskAttempt
	Retry bool
}

// Transition is the pure state machine of an invoice task. Given the attempt that just
// ran and its outcome it returns the next state of the task:
//
//	success                      -> SUCCEEDED
//	permanent failure, not found -> PERMANENTLY_FAILED
//	transient failure            -> RETRYING while attempt+1 <= maxRetries, else EXHAUSTED
func Transition(attempt model.TaskAttempt, outcome WorkflowOutcome, maxRetries int) Decision {
	next := attempt
	next.LastError = outcome.Reason

	switch outcome.Kind {
	case OutcomeSuccess:
		next.State = model.TaskSucceeded
	case OutcomeTransientFailure:
		next.Attempt++
		if next.Attempt <= maxRetries {
			next.State = model.TaskRetrying
			return Decision{Next: next, Retry: true}
		}
		next.State = model.TaskExhausted
	default:
		next.State = model.TaskPermanentlyFailed
	}
	return Decision{Next: next}
}

// TaskReport describes where a task stands after Handle.
type TaskReport struct {
	TaskID    string          `json:"task_id"`
	OrderID   string          `json:"order_id"`
	State     model.TaskState `json:"state"`
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Attempts  int             `json:"attempts"`
	NextDelay time.Duration   `json:"next_delay,omitempty"`
}

// staleRetryAfter drops registry entries for retries that were picked up elsewhere.
const staleRetryAfter = time.Hour

// TaskScheduler owns the retry state machine of invoice tasks.
type TaskScheduler struct {
	queue     TaskQueue
	processor Processor
	policy    RetryPolicy
	locker    AttemptLocker
	reporter  TaskReporter
	log       logrus.FieldLogger
	now       func() time.Time

	mu    sync.Mutex
	tasks map[string]model.TaskAttempt
}

// SchedulerOption customises a TaskScheduler.
type SchedulerOption func(*TaskScheduler)

func WithAttemptLocker(l AttemptLocker) SchedulerOption {
	return func(s *TaskScheduler) { s.locker = l }
}

func WithTaskReporter(r TaskReporter) SchedulerOption {
	return func(s *TaskScheduler) { s.reporter = r }
}

func WithClock(now func() time.Time) SchedulerOption {
	return func(s *TaskScheduler) { s.now = now }
}

func NewTaskScheduler(queue TaskQueue, processor Processor, policy RetryPolicy, log logrus.FieldLogger, opts ...SchedulerOption) *TaskScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &TaskScheduler{
		queue:     queue,
		processor: processor,
		policy:    policy,
		log:       log,
		now:       time.Now,
		tasks:     make(map[string]model.TaskAttempt),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue creates a new task for orderID and submits its first attempt.
// The returned handle is the task ID shared by all attempts of the task.
func (s *TaskScheduler) Enqueue(ctx context.Context, orderID string) (string, error) {
	ctx, span := schedulerTracer.Start(ctx, "Enqueue invoice task")
	defer span.End()

	attempt := model.TaskAttempt{
		TaskID:       model.GenerateUUIDWithSuffix("task"),
		OrderID:      orderID,
		Attempt:      0,
		ScheduledFor: s.now().UTC(),
		State:        model.TaskPending,
	}
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("task.id", attempt.TaskID))

	if err := s.queue.Submit(ctx, attempt); err != nil {
		span.RecordError(err)
		s.log.WithError(err).WithField("order_id", orderID).Error("failed to enqueue invoice task")
		return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	s.log.WithFields(logrus.Fields{"order_id": orderID, "task_id": attempt.TaskID}).Info("invoice task queued")
	return attempt.TaskID, nil
}

// Handle executes one delivered attempt and moves the task to its next state. A retry is
// only scheduled after the outcome of the current attempt is known, so attempts of the
// same task never overlap.
func (s *TaskScheduler) Handle(ctx context.Context, attempt model.TaskAttempt) TaskReport {
	ctx, span := schedulerTracer.Start(ctx, "Handle invoice task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", attempt.TaskID),
		attribute.String("order.id", attempt.OrderID),
		attribute.Int("task.attempt", attempt.Attempt),
	)

	log := s.log.WithFields(logrus.Fields{
		"task_id":  attempt.TaskID,
		"order_id": attempt.OrderID,
		"attempt":  attempt.Attempt,
	})

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, attempt.TaskID, attempt.Attempt)
		switch {
		case errors.Is(err, redlock.ErrLockHeld):
			log.Warn("attempt is already running elsewhere, dropping redelivery")
			return TaskReport{
				TaskID:   attempt.TaskID,
				OrderID:  attempt.OrderID,
				State:    model.TaskRunning,
				Message:  "duplicate delivery skipped",
				Attempts: attempt.Attempt + 1,
			}
		case err != nil:
			log.WithError(err).Warn("attempt lock unavailable, running without it")
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.WithError(err).Warn("failed to release attempt lock")
				}
			}()
		}
	}

	attempt.State = model.TaskRunning
	s.track(attempt)
	log.Info("processing invoice task")

	outcome := s.processor.Process(ctx, attempt.OrderID)
	decision := Transition(attempt, outcome, s.policy.MaxRetries)
	next := decision.Next

	if decision.Retry {
		delay := s.policy.Delay(next.Attempt)
		next.ScheduledFor = s.now().UTC().Add(delay)

		if err := s.queue.ScheduleAfter(ctx, next, delay); err != nil {
			span.RecordError(err)
			next.State = model.TaskExhausted
			report := TaskReport{
				TaskID:   next.TaskID,
				OrderID:  next.OrderID,
				State:    model.TaskExhausted,
				Message:  fmt.Sprintf("failed to schedule retry: %v", err),
				Attempts: attempt.Attempt + 1,
			}
			s.finish(ctx, log, report)
			return report
		}

		s.track(next)
		log.WithFields(logrus.Fields{"delay": delay.String(), "reason": outcome.Reason}).Warn("invoice task will be retried")
		return TaskReport{
			TaskID:    next.TaskID,
			OrderID:   next.OrderID,
			State:     model.TaskRetrying,
			Message:   outcome.Reason,
			Attempts:  attempt.Attempt + 1,
			NextDelay: delay,
		}
	}

	report := TaskReport{
		TaskID:   next.TaskID,
		OrderID:  next.OrderID,
		State:    next.State,
		Success:  next.State == model.TaskSucceeded,
		Attempts: attempt.Attempt + 1,
	}
	switch next.State {
	case model.TaskSucceeded:
		report.Message = outcome.Message
	case model.TaskExhausted:
		report.Message = fmt.Sprintf("failed after %d retries: %s", s.policy.MaxRetries, outcome.Reason)
	default:
		report.Message = outcome.Reason
	}
	s.finish(ctx, log, report)
	return report
}

func (s *TaskScheduler) finish(ctx context.Context, log logrus.FieldLogger, report TaskReport) {
	s.untrack(report.TaskID)

	entry := log.WithFields(logrus.Fields{"state": report.State, "attempts": report.Attempts})
	if report.Success {
		entry.Info(report.Message)
	} else {
		entry.Error(report.Message)
	}

	if s.reporter != nil {
		s.reporter.ReportTask(ctx, report)
	}
}

func (s *TaskScheduler) track(attempt model.TaskAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[attempt.TaskID] = attempt

	cutoff := s.now().Add(-staleRetryAfter)
	for id, t := range s.tasks {
		if t.State == model.TaskRetrying && t.ScheduledFor.Before(cutoff) {
			delete(s.tasks, id)
		}
	}
}

func (s *TaskScheduler) untrack(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

// Lookup returns the live attempt for taskID as seen by this scheduler.
func (s *TaskScheduler) Lookup(taskID string) (model.TaskAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	return t, ok
}

// Live is the number of tasks this scheduler is running or waiting to retry.
func (s *TaskScheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
