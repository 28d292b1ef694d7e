package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
	"github.com/imrishuroy/marketplace-orderflow/internal/store"
)

const (
	retryBaseDelay = time.Minute
	// claimTimeout after which a processing claim is treated as abandoned.
	claimTimeout = 5 * time.Minute
)

// backoff doubles from one minute per attempt already made.
func backoff(retries int) time.Duration {
	if retries > 10 {
		retries = 10
	}
	return retryBaseDelay << retries
}

// failedWebhookID keys a FailedWebhook on its delivery, so gateway
// redeliveries of the same body share one row and one retry budget.
func failedWebhookID(name gateway.Name, body []byte) string {
	sum := sha256.Sum256(body)
	return string(name) + "_" + hex.EncodeToString(sum[:16])
}

// recordFailure stores a failed delivery, or notes the newest error on the
// row an earlier delivery of the same body created. The first attempt is due
// after backoff(0); EnqueueDue hands it to the worker then.
func (r *Reconciler) recordFailure(ctx context.Context, name gateway.Name, body []byte, cause error) (*FailedWebhook, error) {
	id := failedWebhookID(name, body)
	var fw FailedWebhook
	err := r.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		now := r.nowFunc().UTC()
		found, err := tx.Get(ctx, r.cols.FailedWebhooks, id, &fw)
		if err != nil {
			return err
		}
		if !found {
			fw = FailedWebhook{
				WebhookID:     id,
				Gateway:       string(name),
				Payload:       string(body),
				Status:        FailedPending,
				Deliveries:    1,
				LastError:     cause.Error(),
				NextAttemptAt: now.Add(backoff(0)),
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			return tx.Create(r.cols.FailedWebhooks, id, fw)
		}
		if fw.Status == FailedResolved {
			return nil
		}
		fw.Deliveries++
		fw.LastError = cause.Error()
		return tx.Put(r.cols.FailedWebhooks, id, fw)
	})
	if err != nil {
		return nil, err
	}
	return &fw, nil
}

func (r *Reconciler) enqueue(ctx context.Context, webhookID string) {
	if r.queue == nil {
		return
	}
	err := r.queue.SendJSON(ctx, RetryMessage{WebhookID: webhookID}, map[string]string{"kind": "webhook_retry"})
	if err != nil && !errors.Is(err, aws.ErrNoQueue) {
		r.logger.Warn("enqueue webhook retry", zap.String("webhook_id", webhookID), zap.Error(err))
	}
}

// Retry replays a FailedWebhook. The pending -> processing claim is taken in
// a transaction so concurrent retries cannot both apply it. Automatic retries
// wait for NextAttemptAt and stop at the retry cap; manual retries run at once
// and may also replay dead-lettered webhooks.
func (r *Reconciler) Retry(ctx context.Context, webhookID string, manual bool) (*RetryResult, error) {
	claimed, outcome, err := r.claim(ctx, webhookID, manual)
	if err != nil {
		return nil, err
	}
	if outcome != "" {
		if outcome == RetryDeadLettered {
			r.count(ctx, aws.MetricRetryDeadLettered, gateway.Name(claimed.Gateway))
			r.notify(ctx, notify.Event{Type: notify.EventWebhookDeadLettered, WebhookID: webhookID})
		}
		return &RetryResult{Outcome: outcome, Webhook: *claimed}, nil
	}

	var results []Result
	procErr := func() error {
		gw, err := r.gateways.Get(gateway.Name(claimed.Gateway))
		if err != nil {
			return err
		}
		results, err = r.process(ctx, gw, []byte(claimed.Payload))
		return err
	}()

	final, err := r.finish(ctx, webhookID, procErr)
	if err != nil {
		return nil, err
	}
	res := &RetryResult{Webhook: *final, Results: results}
	switch final.Status {
	case FailedResolved:
		res.Outcome = RetryResolved
	case FailedDeadLetter:
		res.Outcome = RetryDeadLettered
		r.count(ctx, aws.MetricRetryDeadLettered, gateway.Name(final.Gateway))
		r.notify(ctx, notify.Event{Type: notify.EventWebhookDeadLettered, WebhookID: webhookID})
	default:
		res.Outcome = RetryFailed
	}
	r.logger.Info("webhook retry finished",
		zap.String("webhook_id", webhookID),
		zap.Bool("manual", manual),
		zap.Int("retry_count", final.RetryCount),
		zap.String("outcome", string(res.Outcome)),
		zap.NamedError("cause", procErr))
	return res, nil
}

// claim returns the claimed webhook and an empty outcome, or a terminal
// outcome when there is nothing to run.
func (r *Reconciler) claim(ctx context.Context, webhookID string, manual bool) (*FailedWebhook, RetryOutcome, error) {
	var (
		fw      FailedWebhook
		outcome RetryOutcome
	)
	err := r.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		outcome = ""
		found, err := tx.Get(ctx, r.cols.FailedWebhooks, webhookID, &fw)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("failed webhook", webhookID)
		}
		now := r.nowFunc().UTC()

		switch fw.Status {
		case FailedResolved:
			outcome = RetryAlreadyResolved
			return nil
		case FailedProcessing:
			if now.Sub(fw.UpdatedAt) < claimTimeout {
				outcome = RetryInProgress
				return nil
			}
		case FailedDeadLetter:
			if !manual {
				outcome = RetryExhausted
				return nil
			}
		case FailedPending:
			if manual {
				break
			}
			if fw.RetryCount >= r.maxRetries {
				fw.Status = FailedDeadLetter
				fw.UpdatedAt = now
				outcome = RetryDeadLettered
				return tx.Put(r.cols.FailedWebhooks, webhookID, fw)
			}
			if fw.NextAttemptAt.After(now) {
				outcome = RetryNotDue
				return nil
			}
		}

		fw.Status = FailedProcessing
		fw.RetryCount++
		fw.UpdatedAt = now
		return tx.Put(r.cols.FailedWebhooks, webhookID, fw)
	})
	if err != nil {
		return nil, "", err
	}
	return &fw, outcome, nil
}

func (r *Reconciler) finish(ctx context.Context, webhookID string, procErr error) (*FailedWebhook, error) {
	var fw FailedWebhook
	err := r.runner.Run(ctx, func(ctx context.Context, tx *store.Txn) error {
		found, err := tx.Get(ctx, r.cols.FailedWebhooks, webhookID, &fw)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("failed webhook", webhookID)
		}
		now := r.nowFunc().UTC()
		fw.UpdatedAt = now
		switch {
		case procErr == nil:
			fw.Status = FailedResolved
			fw.LastError = ""
			fw.ResolvedAt = &now
		case fw.RetryCount >= r.maxRetries:
			fw.Status = FailedDeadLetter
			fw.LastError = procErr.Error()
		default:
			fw.Status = FailedPending
			fw.LastError = procErr.Error()
			fw.NextAttemptAt = now.Add(backoff(fw.RetryCount))
		}
		return tx.Put(r.cols.FailedWebhooks, webhookID, fw)
	})
	if err != nil {
		return nil, fmt.Errorf("finish retry %s: %w", webhookID, err)
	}
	return &fw, nil
}

// ListFailed returns failed webhooks with status, oldest first.
func (r *Reconciler) ListFailed(ctx context.Context, status FailedStatus, limit int32) ([]FailedWebhook, error) {
	if status == "" {
		status = FailedPending
	}
	var out []FailedWebhook
	err := r.runner.Query(ctx, r.cols.FailedWebhooks, store.Query{
		Index: r.cols.StatusIndex,
		Attr:  "status",
		Value: string(status),
		Limit: limit,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EnqueueDue queues every pending webhook whose next attempt is due and
// reports how many were handed off. Without a retry queue they are retried
// inline.
func (r *Reconciler) EnqueueDue(ctx context.Context, limit int32) (int, error) {
	pending, err := r.ListFailed(ctx, FailedPending, limit)
	if err != nil {
		return 0, err
	}
	now := r.nowFunc().UTC()
	n := 0
	for _, fw := range pending {
		if fw.NextAttemptAt.After(now) {
			continue
		}
		if r.queue != nil {
			r.enqueue(ctx, fw.WebhookID)
		} else if _, err := r.Retry(ctx, fw.WebhookID, false); err != nil {
			r.logger.Warn("inline webhook retry", zap.String("webhook_id", fw.WebhookID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}
