// Package notify publishes order lifecycle events for downstream consumers
// such as kitchen displays. Delivery is best effort.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

const (
	EventOrderCreated         = "order.created"
	EventOrderItemsAdded      = "order.items_added"
	EventOrderPaymentCaptured = "order.payment_captured"
	EventOrderPaymentFailed   = "order.payment_failed"
	EventOrderStatusChanged   = "order.status_changed"
	EventOrderRefundUpdated   = "order.refund_updated"
	EventSplitCompleted       = "split.completed"
	EventWebhookDeadLettered  = "webhook.dead_lettered"
)

type Event struct {
	Type       string      `json:"type"`
	OrderID    string      `json:"orderId,omitempty"`
	BusinessID string      `json:"businessId,omitempty"`
	SessionID  string      `json:"sessionId,omitempty"`
	WebhookID  string      `json:"webhookId,omitempty"`
	Status     string      `json:"status,omitempty"`
	Amount     money.Paise `json:"amount,omitempty"`
	Token      string      `json:"token,omitempty"`
	At         time.Time   `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// TopicPublisher is satisfied by aws.SNSPublisher.
type TopicPublisher interface {
	Publish(ctx context.Context, topicArn, eventType string, message []byte) error
}

// SNS sends events to one topic, tagged with their type for subscription filters.
type SNS struct {
	pub      TopicPublisher
	topicArn string
}

func NewSNS(pub TopicPublisher, topicArn string) *SNS {
	return &SNS{pub: pub, topicArn: topicArn}
}

func (s *SNS) Notify(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	return s.pub.Publish(ctx, s.topicArn, ev.Type, body)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Types lists recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
