package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/webhooks"
)

// Retrier is satisfied by webhooks.Reconciler.
type Retrier interface {
	Retry(ctx context.Context, webhookID string, manual bool) (*webhooks.RetryResult, error)
}

// Processor consumes FailedWebhook retry messages from SQS.
type Processor struct {
	retrier Retrier
	logger  *zap.Logger
}

func NewProcessor(retrier Retrier, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{retrier: retrier, logger: logger}
}

// Handle retries every message in the batch. A retry that fails inside the
// reconciler is already rescheduled on the FailedWebhook, so only errors that
// left the webhook untouched are reported back to SQS for redelivery.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg webhooks.RetryMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil || msg.WebhookID == "" {
		// redelivery cannot fix a malformed body
		p.logger.Warn("dropping invalid retry message", zap.String("message_id", rec.MessageId), zap.String("body", rec.Body))
		return nil
	}

	res, err := p.retrier.Retry(ctx, msg.WebhookID, false)
	if apperr.Is(err, apperr.KindNotFound) {
		p.logger.Warn("retry message for unknown webhook", zap.String("webhook_id", msg.WebhookID))
		return nil
	}
	if err != nil {
		return err
	}
	if res.Outcome == webhooks.RetryNotDue {
		// the reaper queues it again once NextAttemptAt passes
		p.logger.Debug("retry not due", zap.String("webhook_id", msg.WebhookID), zap.Time("next_attempt_at", res.Webhook.NextAttemptAt))
		return nil
	}
	p.logger.Info("retry processed",
		zap.String("webhook_id", msg.WebhookID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("retry_count", res.Webhook.RetryCount))
	return nil
}
