package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/webhooks"
)

type mockRetrier struct {
	calls   []string
	results map[string]webhooks.RetryOutcome
	errs    map[string]error
}

func (m *mockRetrier) Retry(_ context.Context, webhookID string, manual bool) (*webhooks.RetryResult, error) {
	if manual {
		return nil, errors.New("worker retries must not be manual")
	}
	m.calls = append(m.calls, webhookID)
	if err := m.errs[webhookID]; err != nil {
		return nil, err
	}
	return &webhooks.RetryResult{
		Outcome: m.results[webhookID],
		Webhook: webhooks.FailedWebhook{WebhookID: webhookID, RetryCount: 1},
	}, nil
}

func sqsEvent(bodies ...string) events.SQSEvent {
	ev := events.SQSEvent{}
	for i, b := range bodies {
		ev.Records = append(ev.Records, events.SQSMessage{MessageId: string(rune('a' + i)), Body: b})
	}
	return ev
}

func TestHandle_RetriesEachMessage(t *testing.T) {
	m := &mockRetrier{results: map[string]webhooks.RetryOutcome{
		"wh-1": webhooks.RetryResolved,
		"wh-2": webhooks.RetryFailed,
		"wh-3": webhooks.RetryNotDue,
	}}
	p := NewProcessor(m, nil)

	resp, err := p.Handle(context.Background(), sqsEvent(`{"webhookId":"wh-1"}`, `{"webhookId":"wh-2"}`, `{"webhookId":"wh-3"}`))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures, "failed and early retries are rescheduled, not redelivered")
	assert.Equal(t, []string{"wh-1", "wh-2", "wh-3"}, m.calls)
}

func TestHandle_ReportsInfrastructureErrors(t *testing.T) {
	m := &mockRetrier{
		results: map[string]webhooks.RetryOutcome{"wh-ok": webhooks.RetryResolved},
		errs: map[string]error{
			"wh-down": errors.New("dynamodb unavailable"),
			"wh-gone": apperr.NotFound("failed webhook", "wh-gone"),
		},
	}
	p := NewProcessor(m, nil)

	resp, err := p.Handle(context.Background(), sqsEvent(
		`{"webhookId":"wh-ok"}`,
		`{"webhookId":"wh-down"}`,
		`{"webhookId":"wh-gone"}`,
	))
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "b", resp.BatchItemFailures[0].ItemIdentifier)
}

func TestHandle_DropsMalformedMessages(t *testing.T) {
	m := &mockRetrier{}
	p := NewProcessor(m, nil)

	resp, err := p.Handle(context.Background(), sqsEvent(`not-json`, `{"orderId":"o-1"}`))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, m.calls)
}
