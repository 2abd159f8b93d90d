package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeOrderRecorded   = "checkout.order_recorded"
	TypePaymentOrphaned = "checkout.payment_orphaned"
)

// CheckoutEvent is published keyed by payment intent id.
type CheckoutEvent struct {
	Type            string    `json:"type"`
	PaymentIntentID string    `json:"payment_intent_id"`
	OrderID         string    `json:"order_id,omitempty"`
	ItemKind        string    `json:"item_kind"`
	ItemID          string    `json:"item_id"`
	Amount          string    `json:"amount"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event *CheckoutEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer messageWriter
}

// NewPublisher returns a kafka backed publisher, or a no-op one when no brokers are configured.
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return noopPublisher{}
	}

	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event *CheckoutEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.PaymentIntentID),
		Value: data,
		Time:  event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("write %s message: %w", event.Type, err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, *CheckoutEvent) error { return nil }
func (noopPublisher) Close() error { return nil }
