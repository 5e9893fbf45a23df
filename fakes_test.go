package artisan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	redlock "github.com/midnight-artisan/artisan/internal/lock"
	"github.com/midnight-artisan/artisan/model"
)

type queuedAttempt struct {
	attempt model.TaskAttempt
	delay   time.Duration
}

// memoryQueue keeps attempts in memory until drained.
type memoryQueue struct {
	mu          sync.Mutex
	pending     []queuedAttempt
	delays      []time.Duration
	submitErr   error
	scheduleErr error
	failOrders  map[string]bool
}

func (q *memoryQueue) Submit(_ context.Context, attempt model.TaskAttempt) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.submitErr != nil {
		return q.submitErr
	}
	if q.failOrders[attempt.OrderID] {
		return errors.New("redis: connection pool timeout")
	}
	q.pending = append(q.pending, queuedAttempt{attempt: attempt})
	return nil
}

func (q *memoryQueue) ScheduleAfter(_ context.Context, attempt model.TaskAttempt, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scheduleErr != nil {
		return q.scheduleErr
	}
	q.delays = append(q.delays, delay)
	q.pending = append(q.pending, queuedAttempt{attempt: attempt, delay: delay})
	return nil
}

func (q *memoryQueue) pop() (queuedAttempt, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return queuedAttempt{}, false
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	return next, true
}

// drain runs every queued attempt, including retries, and returns the reports in order.
func (q *memoryQueue) drain(ctx context.Context, s *TaskScheduler) []TaskReport {
	var reports []TaskReport
	for {
		next, ok := q.pop()
		if !ok {
			return reports
		}
		reports = append(reports, s.Handle(ctx, next.attempt))
	}
}

// scriptedProcessor returns outcomes in order and repeats the last one.
type scriptedProcessor struct {
	mu       sync.Mutex
	outcomes []WorkflowOutcome
	calls    int
}

func (p *scriptedProcessor) Process(_ context.Context, orderID string) WorkflowOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.outcomes) {
		i = len(p.outcomes) - 1
	}
	p.calls++
	out := p.outcomes[i]
	out.OrderID = orderID
	return out
}

type sentMail struct {
	to, subject, body string
}

// scriptedTransport fails with errs in order, then accepts every message.
type scriptedTransport struct {
	mu    sync.Mutex
	errs  []error
	calls int
	sent  []sentMail
}

func (t *scriptedTransport) Deliver(_ context.Context, to, subject, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.calls <= len(t.errs) {
		return t.errs[t.calls-1]
	}
	t.sent = append(t.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, int) (func(context.Context) error, error) {
	return nil, redlock.ErrLockHeld
}

// countingLocker grants every claim and counts releases.
type countingLocker struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (l *countingLocker) Acquire(context.Context, string, int) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []TaskReport
}

func (r *recordingReporter) ReportTask(_ context.Context, report TaskReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func noJitterPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Jitter = func(time.Duration) time.Duration { return 0 }
	return p
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}
