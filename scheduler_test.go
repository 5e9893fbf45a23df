package artisan

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnight-artisan/artisan/config"
	redlock "github.com/midnight-artisan/artisan/internal/lock"
	"github.com/midnight-artisan/artisan/model"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: -1, want: time.Second},
		{attempt: 0, want: time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 3, want: 8 * time.Second},
		{attempt: 9, want: 512 * time.Second},
		{attempt: 10, want: 600 * time.Second},
		{attempt: 200, want: 600 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Backoff(tt.attempt))
		})
	}
}

func TestRetryPolicy_DelayAddsBoundedJitter(t *testing.T) {
	p := DefaultRetryPolicy()
	for i := 0; i < 50; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.Less(t, d, 5*time.Second)
	}

	p.Jitter = func(max time.Duration) time.Duration { return max / 2 }
	assert.Equal(t, 4*time.Second+500*time.Millisecond, p.Delay(2))

	p.MaxJitter = 0
	assert.Equal(t, 4*time.Second, p.Delay(2))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.InvoiceConfig{MaxRetries: 5, BaseBackoffSec: 2, MaxBackoffSec: 30, MaxJitterSec: 0})
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, 2*time.Second, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, time.Duration(0), p.MaxJitter)
	assert.Equal(t, 30*time.Second, p.Backoff(10))
}

func TestTransition(t *testing.T) {
	base := model.TaskAttempt{TaskID: "task_1", OrderID: "ord_1", State: model.TaskRunning}

	tests := []struct {
		name      string
		attempt   int
		outcome   WorkflowOutcome
		wantState model.TaskState
		wantRetry bool
		wantNext  int
	}{
		{name: "success", attempt: 0, outcome: Success("ord_1", "sent"), wantState: model.TaskSucceeded, wantNext: 0},
		{name: "success after retries", attempt: 2, outcome: Success("ord_1", "sent"), wantState: model.TaskSucceeded, wantNext: 2},
		{name: "permanent", attempt: 0, outcome: PermanentFailure("ord_1", "bad address"), wantState: model.TaskPermanentlyFailed, wantNext: 0},
		{name: "not found", attempt: 1, outcome: NotFound("ord_1"), wantState: model.TaskPermanentlyFailed, wantNext: 1},
		{name: "first transient", attempt: 0, outcome: TransientFailure("ord_1", "timeout"), wantState: model.TaskRetrying, wantRetry: true, wantNext: 1},
		{name: "last retry", attempt: 2, outcome: TransientFailure("ord_1", "timeout"), wantState: model.TaskRetrying, wantRetry: true, wantNext: 3},
		{name: "exhausted", attempt: 3, outcome: TransientFailure("ord_1", "timeout"), wantState: model.TaskExhausted, wantNext: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.Attempt = tt.attempt
			d := Transition(in, tt.outcome, 3)
			assert.Equal(t, tt.wantState, d.Next.State)
			assert.Equal(t, tt.wantRetry, d.Retry)
			assert.Equal(t, tt.wantNext, d.Next.Attempt)
			assert.Equal(t, tt.outcome.Reason, d.Next.LastError)
			assert.Equal(t, tt.attempt, in.Attempt, "input must not be modified")
		})
	}
}

func TestTransition_ZeroRetries(t *testing.T) {
	d := Transition(model.TaskAttempt{TaskID: "task_1"}, TransientFailure("ord_1", "timeout"), 0)
	assert.False(t, d.Retry)
	assert.Equal(t, model.TaskExhausted, d.Next.State)
}

func TestTaskScheduler_Enqueue(t *testing.T) {
	q := &memoryQueue{}
	s := NewTaskScheduler(q, &scriptedProcessor{outcomes: []WorkflowOutcome{Success("", "ok")}}, noJitterPolicy(), quietLogger())

	taskID, err := s.Enqueue(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Contains(t, taskID, "task_")

	require.Len(t, q.pending, 1)
	first := q.pending[0].attempt
	assert.Equal(t, taskID, first.TaskID)
	assert.Equal(t, "ord_1", first.OrderID)
	assert.Equal(t, 0, first.Attempt)
	assert.Equal(t, model.TaskPending, first.State)
}

func TestTaskScheduler_EnqueueQueueDown(t *testing.T) {
	q := &memoryQueue{submitErr: errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")}
	s := NewTaskScheduler(q, &scriptedProcessor{outcomes: []WorkflowOutcome{Success("", "ok")}}, noJitterPolicy(), quietLogger())

	taskID, err := s.Enqueue(context.Background(), "ord_1")
	assert.Empty(t, taskID)
	assert.True(t, errors.Is(err, ErrQueueUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTaskScheduler_SucceedsAfterTransientFailures(t *testing.T) {
	for k := 0; k <= 3; k++ {
		t.Run(fmt.Sprintf("%d_failures", k), func(t *testing.T) {
			outcomes := make([]WorkflowOutcome, 0, k+1)
			for i := 0; i < k; i++ {
				outcomes = append(outcomes, TransientFailure("", "smtp timeout"))
			}
			outcomes = append(outcomes, Success("", "Invoice sent to jane@example.com"))
			proc := &scriptedProcessor{outcomes: outcomes}
			q := &memoryQueue{}
			reporter := &recordingReporter{}
			s := NewTaskScheduler(q, proc, noJitterPolicy(), quietLogger(), WithTaskReporter(reporter))

			_, err := s.Enqueue(context.Background(), "ord_1")
			require.NoError(t, err)
			reports := q.drain(context.Background(), s)

			require.Len(t, reports, k+1)
			last := reports[len(reports)-1]
			assert.Equal(t, model.TaskSucceeded, last.State)
			assert.True(t, last.Success)
			assert.Equal(t, k+1, last.Attempts)
			assert.Equal(t, "Invoice sent to jane@example.com", last.Message)
			assert.Equal(t, k+1, proc.calls)

			require.Len(t, q.delays, k)
			for i := 1; i < len(q.delays); i++ {
				assert.GreaterOrEqual(t, q.delays[i], q.delays[i-1])
			}
			if k > 0 {
				assert.Equal(t, 2*time.Second, q.delays[0])
			}

			require.Len(t, reporter.reports, 1)
			assert.Equal(t, 0, s.Live())
		})
	}
}

func TestTaskScheduler_ExhaustsRetries(t *testing.T) {
	proc := &scriptedProcessor{outcomes: []WorkflowOutcome{TransientFailure("", "connection refused")}}
	q := &memoryQueue{}
	reporter := &recordingReporter{}
	s := NewTaskScheduler(q, proc, noJitterPolicy(), quietLogger(), WithTaskReporter(reporter))

	_, err := s.Enqueue(context.Background(), "ord_1")
	require.NoError(t, err)
	reports := q.drain(context.Background(), s)

	require.Len(t, reports, 4)
	for _, r := range reports[:3] {
		assert.Equal(t, model.TaskRetrying, r.State)
	}
	last := reports[3]
	assert.Equal(t, model.TaskExhausted, last.State)
	assert.False(t, last.Success)
	assert.Equal(t, 4, last.Attempts)
	assert.Equal(t, "failed after 3 retries: connection refused", last.Message)
	assert.Equal(t, 4, proc.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, q.delays)

	require.Len(t, reporter.reports, 1)
	assert.Equal(t, model.TaskExhausted, reporter.reports[0].State)
}

func TestTaskScheduler_PermanentFailureStopsImmediately(t *testing.T) {
	proc := &scriptedProcessor{outcomes: []WorkflowOutcome{PermanentFailure("", "550 mailbox unavailable")}}
	q := &memoryQueue{}
	s := NewTaskScheduler(q, proc, noJitterPolicy(), quietLogger())

	_, err := s.Enqueue(context.Background(), "ord_1")
	require.NoError(t, err)
	reports := q.drain(context.Background(), s)

	require.Len(t, reports, 1)
	assert.Equal(t, model.TaskPermanentlyFailed, reports[0].State)
	assert.Equal(t, "550 mailbox unavailable", reports[0].Message)
	assert.Empty(t, q.delays)
}

func TestTaskScheduler_NotFoundIsNotRetried(t *testing.T) {
	proc := &scriptedProcessor{outcomes: []WorkflowOutcome{NotFound("ord_missing")}}
	q := &memoryQueue{}
	s := NewTaskScheduler(q, proc, noJitterPolicy(), quietLogger())

	_, err := s.Enqueue(context.Background(), "ord_missing")
	require.NoError(t, err)
	reports := q.drain(context.Background(), s)

	require.Len(t, reports, 1)
	assert.Equal(t, model.TaskPermanentlyFailed, reports[0].State)
	assert.Equal(t, "Order ord_missing not found", reports[0].Message)
}

func TestTaskScheduler_RetrySchedulingFails(t *testing.T) {
	proc := &scriptedProcessor{outcomes: []WorkflowOutcome{TransientFailure("", "timeout")}}
	q := &memoryQueue{scheduleErr: errors.New("redis down")}
	reporter := &recordingReporter{}
	s := NewTaskScheduler(q, proc, noJitterPolicy(), quietLogger(), WithTaskReporter(reporter))

	_, err := s.Enqueue(context.Background(), "ord_1")
	require.NoError(t, err)
	reports := q.drain(context.Background(), s)

	require.Len(t, reports, 1)
	assert.Equal(t, model.TaskExhausted, reports[0].State)
	assert.Equal(t, "failed to schedule retry: redis down", reports[0].Message)
	require.Len(t, reporter.reports, 1)
	assert.Equal(t, 0, s.Live())
}

func TestTaskScheduler_DropsDuplicateDelivery(t *testing.T) {
	proc := &scriptedProcessor{outcomes: []WorkflowOutcome{Success("", "ok")}}
	reporter := &recordingReporter{}
	s := NewTaskScheduler(&memoryQueue{}, proc, noJitterPolicy(), quietLogger(),
		WithAttemptLocker(heldLocker{}), WithTaskReporter(reporter))

	report := s.Handle(context.Background(), model.TaskAttempt{TaskID: "task_1", OrderID: "ord_1", Attempt: 1})
	assert.Equal(t, model.TaskRunning, report.State)
	assert.Equal(t, "duplicate delivery skipped", report.Message)
	assert.Equal(t, 0, proc.calls)
	assert.Empty(t, reporter.reports)
}

func TestTaskScheduler_ReleasesAttemptClaim(t *testing.T) {
	proc := &scriptedProcessor{outcomes: []WorkflowOutcome{TransientFailure("", "timeout"), Success("", "ok")}}
	locker := &countingLocker{}
	q := &memoryQueue{}
	s := NewTaskScheduler(q, proc, noJitterPolicy(), quietLogger(), WithAttemptLocker(locker))

	_, err := s.Enqueue(context.Background(), "ord_1")
	require.NoError(t, err)
	reports := q.drain(context.Background(), s)

	require.Len(t, reports, 2)
	assert.Equal(t, 2, locker.acquired)
	assert.Equal(t, 2, locker.released)
}

func TestTaskScheduler_RedeliveredAttemptRunsAfterClaimRelease(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	proc := &scriptedProcessor{outcomes: []WorkflowOutcome{Success("", "ok")}}
	s := NewTaskScheduler(&memoryQueue{}, proc, noJitterPolicy(), quietLogger(),
		WithAttemptLocker(redlock.NewAttemptLocker(client, 30*time.Second)))

	attempt := model.TaskAttempt{TaskID: "task_1", OrderID: "ord_1"}
	assert.Equal(t, model.TaskSucceeded, s.Handle(context.Background(), attempt).State)
	assert.Equal(t, model.TaskSucceeded, s.Handle(context.Background(), attempt).State)
	assert.Equal(t, 2, proc.calls)
}

func TestTaskScheduler_TracksRetryingTasks(t *testing.T) {
	proc := &scriptedProcessor{outcomes: []WorkflowOutcome{TransientFailure("", "timeout"), Success("", "ok")}}
	q := &memoryQueue{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewTaskScheduler(q, proc, noJitterPolicy(), quietLogger(), WithClock(func() time.Time { return now }))

	taskID, err := s.Enqueue(context.Background(), "ord_1")
	require.NoError(t, err)

	first, _ := q.pop()
	report := s.Handle(context.Background(), first.attempt)
	assert.Equal(t, model.TaskRetrying, report.State)
	assert.Equal(t, 2*time.Second, report.NextDelay)

	live, ok := s.Lookup(taskID)
	require.True(t, ok)
	assert.Equal(t, model.TaskRetrying, live.State)
	assert.Equal(t, 1, live.Attempt)
	assert.Equal(t, now.Add(2*time.Second), live.ScheduledFor)
	assert.Equal(t, 1, s.Live())

	q.drain(context.Background(), s)
	_, ok = s.Lookup(taskID)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Live())
}
