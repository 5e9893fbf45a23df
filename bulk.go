package artisan

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Enqueuer submits one invoice task for an order and returns its handle.
type Enqueuer interface {
	Enqueue(ctx context.Context, orderID string) (string, error)
}

type QueuedTask struct {
	OrderID string `json:"order_id"`
	TaskID  string `json:"task_id"`
}

type FailedTask struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// BulkDispatchResult maps every order that was queued to its task handle.
type BulkDispatchResult struct {
	Total       int          `json:"total"`
	QueuedTasks []QueuedTask `json:"queued_tasks"`
	Failed      []FailedTask `json:"failed,omitempty"`
}

// BulkDispatcher fans a batch of orders out into one independent task per order.
type BulkDispatcher struct {
	scheduler Enqueuer
	log       logrus.FieldLogger
}

func NewBulkDispatcher(scheduler Enqueuer, log logrus.FieldLogger) *BulkDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BulkDispatcher{scheduler: scheduler, log: log}
}

// DispatchBulk enqueues one task per order and returns without waiting for any of them.
// A failed enqueue is recorded in Failed and does not affect the other orders.
func (b *BulkDispatcher) DispatchBulk(ctx context.Context, orderIDs []string) BulkDispatchResult {
	result := BulkDispatchResult{
		Total:       len(orderIDs),
		QueuedTasks: make([]QueuedTask, 0, len(orderIDs)),
	}

	for _, orderID := range orderIDs {
		taskID, err := b.scheduler.Enqueue(ctx, orderID)
		if err != nil {
			b.log.WithError(err).WithField("order_id", orderID).Error("failed to queue invoice")
			result.Failed = append(result.Failed, FailedTask{OrderID: orderID, Error: err.Error()})
			continue
		}
		result.QueuedTasks = append(result.QueuedTasks, QueuedTask{OrderID: orderID, TaskID: taskID})
	}

	b.log.WithFields(logrus.Fields{
		"total":  result.Total,
		"queued": len(result.QueuedTasks),
		"failed": len(result.Failed),
	}).Info("bulk invoice dispatch finished")
	return result
}
