package model

import "time"

// TaskState is the lifecycle state of an invoice dispatch task.
type TaskState string

const (
	TaskPending           TaskState = "PENDING"
	TaskRunning           TaskState = "RUNNING"
	TaskRetrying          TaskState = "RETRYING"
	TaskSucceeded         TaskState = "SUCCEEDED"
	TaskExhausted         TaskState = "EXHAUSTED"
	TaskPermanentlyFailed TaskState = "PERMANENTLY_FAILED"
)

// IsTerminal reports whether no further attempt will be made in this state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskExhausted, TaskPermanentlyFailed:
		return true
	}
	return false
}

// TaskAttempt is one scheduled execution of the invoice workflow for an order.
// It is the queue payload; TaskID stays the same across retries of the same task.
type TaskAttempt struct {
	TaskID       string    `json:"task_id"`
	OrderID      string    `json:"order_id"`
	Attempt      int       `json:"attempt"`
	ScheduledFor time.Time `json:"scheduled_for"`
	State        TaskState `json:"state"`
	LastError    string    `json:"last_error,omitempty"`
}
