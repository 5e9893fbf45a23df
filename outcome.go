package artisan

import "fmt"

// OutcomeKind tags a WorkflowOutcome.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeTransientFailure OutcomeKind = "transient_failure"
	OutcomePermanentFailure OutcomeKind = "permanent_failure"
	OutcomeNotFound         OutcomeKind = "not_found"
)

// WorkflowOutcome is the result of one InvoiceWorkflow run. Message is set on success,
// Reason on every failure kind.
type WorkflowOutcome struct {
	Kind    OutcomeKind `json:"kind"`
	OrderID string      `json:"order_id"`
	Message string      `json:"message,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

func Success(orderID, message string) WorkflowOutcome {
	return WorkflowOutcome{Kind: OutcomeSuccess, OrderID: orderID, Message: message}
}

func TransientFailure(orderID, reason string) WorkflowOutcome {
	return WorkflowOutcome{Kind: OutcomeTransientFailure, OrderID: orderID, Reason: reason}
}

func PermanentFailure(orderID, reason string) WorkflowOutcome {
	return WorkflowOutcome{Kind: OutcomePermanentFailure, OrderID: orderID, Reason: reason}
}

func NotFound(orderID string) WorkflowOutcome {
	return WorkflowOutcome{Kind: OutcomeNotFound, OrderID: orderID, Reason: fmt.Sprintf("Order %s not found", orderID)}
}

// Retryable reports whether another attempt could change the result.
func (o WorkflowOutcome) Retryable() bool {
	return o.Kind == OutcomeTransientFailure
}

func (o WorkflowOutcome) String() string {
	if o.Kind == OutcomeSuccess {
		return fmt.Sprintf("%s: %s", o.Kind, o.Message)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
}
