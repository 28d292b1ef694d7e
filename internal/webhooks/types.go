package webhooks

import (
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

// ProcessedPayment marks a captured gateway payment as applied. Its existence
// is the dedup guard.
type ProcessedPayment struct {
	Key            string      `dynamodbav:"payment_id"`
	Gateway        string      `dynamodbav:"gateway"`
	PaymentID      string      `dynamodbav:"gateway_payment_id"`
	Type           string      `dynamodbav:"type"`
	OrderID        string      `dynamodbav:"order_id,omitempty"`
	SplitSessionID string      `dynamodbav:"split_session_id,omitempty"`
	AddOnID        string      `dynamodbav:"addon_id,omitempty"`
	Amount         money.Paise `dynamodbav:"amount"`
	EventID        string      `dynamodbav:"event_id,omitempty"`
	ProcessedAt    time.Time   `dynamodbav:"processed_at"`
}

const (
	ReasonOrderNotFound = "order_not_found"
	ReasonUnlinked      = "unlinked"
)

// UnlinkedEvent is a payment event no order or session could be found for.
// It is kept for manual reconciliation.
type UnlinkedEvent struct {
	Key            string      `dynamodbav:"payment_id" json:"key"`
	Gateway        string      `dynamodbav:"gateway" json:"gateway"`
	Kind           string      `dynamodbav:"kind" json:"kind"`
	PaymentID      string      `dynamodbav:"gateway_payment_id" json:"paymentId"`
	GatewayOrderID string      `dynamodbav:"gateway_order_id,omitempty" json:"gatewayOrderId,omitempty"`
	OrderID        string      `dynamodbav:"order_id,omitempty" json:"orderId,omitempty"`
	SplitSessionID string      `dynamodbav:"split_session_id,omitempty" json:"splitSessionId,omitempty"`
	Amount         money.Paise `dynamodbav:"amount" json:"amount"`
	Reason         string      `dynamodbav:"reason" json:"reason"`
	ReceivedAt     time.Time   `dynamodbav:"received_at" json:"receivedAt"`
}

type FailedStatus string

const (
	FailedPending    FailedStatus = "pending"
	FailedProcessing FailedStatus = "processing"
	FailedResolved   FailedStatus = "resolved"
	FailedDeadLetter FailedStatus = "dead_letter"
)

// FailedWebhook is a verified delivery that could not be applied. Payload is
// the raw body, replayed through the gateway parser on retry.
type FailedWebhook struct {
	WebhookID     string       `dynamodbav:"webhook_id" json:"webhookId"`
	Gateway       string       `dynamodbav:"gateway" json:"gateway"`
	Payload       string       `dynamodbav:"payload" json:"payload"`
	Status        FailedStatus `dynamodbav:"status" json:"status"`
	RetryCount    int          `dynamodbav:"retry_count" json:"retryCount"`
	Deliveries    int          `dynamodbav:"deliveries" json:"deliveries"`
	LastError     string       `dynamodbav:"last_error,omitempty" json:"lastError,omitempty"`
	NextAttemptAt time.Time    `dynamodbav:"next_attempt_at" json:"nextAttemptAt"`
	CreatedAt     time.Time    `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt     time.Time    `dynamodbav:"updated_at" json:"updatedAt"`
	ResolvedAt    *time.Time   `dynamodbav:"resolved_at,omitempty" json:"resolvedAt,omitempty"`
}

// RetryMessage is the SQS body asking a worker to retry a FailedWebhook.
type RetryMessage struct {
	WebhookID string `json:"webhookId"`
}

// Outcome is what reconciling one event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnlinked  Outcome = "unlinked"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	Outcome        Outcome `json:"outcome"`
	Kind           string  `json:"kind"`
	PaymentID      string  `json:"paymentId,omitempty"`
	OrderID        string  `json:"orderId,omitempty"`
	SplitSessionID string  `json:"splitSessionId,omitempty"`
	SplitCompleted bool    `json:"splitCompleted,omitempty"`
}

// RetryOutcome is what a retry request did.
type RetryOutcome string

const (
	RetryResolved        RetryOutcome = "resolved"
	RetryFailed          RetryOutcome = "failed"
	RetryDeadLettered    RetryOutcome = "dead_lettered"
	RetryAlreadyResolved RetryOutcome = "already_resolved"
	RetryInProgress      RetryOutcome = "in_progress"
	RetryExhausted       RetryOutcome = "exhausted"
	RetryNotDue          RetryOutcome = "not_due"
)

type RetryResult struct {
	Outcome RetryOutcome  `json:"outcome"`
	Webhook FailedWebhook `json:"webhook"`
	Results []Result      `json:"results,omitempty"`
}
