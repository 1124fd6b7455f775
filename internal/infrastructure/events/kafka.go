package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"checkout-backend/internal/domain"
)

const DefaultOrderTopic = "order.committed"

// OrderCommittedEvent is the payload fulfillment consumers read.
type OrderCommittedEvent struct {
	OrderID         string             `json:"orderId"`
	OrderNumber     int64              `json:"orderNumber"`
	CheckoutID      string             `json:"checkoutId"`
	CustomerID      string             `json:"customerId,omitempty"`
	Email           string             `json:"email"`
	Total           string             `json:"total"`
	Currency        string             `json:"currency"`
	PaymentProvider string             `json:"paymentProvider"`
	PaymentID       string             `json:"paymentId"`
	ShippingMethod  string             `json:"shippingMethod"`
	Items           []domain.OrderItem `json:"items"`
	CommittedAt     time.Time          `json:"committedAt"`
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 5
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V3_4_0_0
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, log), nil
}

func NewKafkaPublisherWithProducer(p sarama.SyncProducer, topic string, log *slog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultOrderTopic
	}
	if log == nil {
		log = slog.Default()
	}
	return &KafkaPublisher{producer: p, topic: topic, log: log.With("component", "events")}
}

// OrderCommitted publishes the order keyed by order id so all events for an
// order land on one partition.
func (p *KafkaPublisher) OrderCommitted(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(OrderCommittedEvent{
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		CheckoutID:      o.CheckoutID,
		CustomerID:      o.CustomerID,
		Email:           o.Email,
		Total:           o.Total.StringFixed(domain.CurrencyExponent(o.Currency)),
		Currency:        o.Currency,
		PaymentProvider: string(o.PaymentProvider),
		PaymentID:       o.PaymentID,
		ShippingMethod:  o.ShippingMethod,
		Items:           o.Items,
		CommittedAt:     o.PaidAt,
	})
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(o.ID),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	p.log.Info("order event published", "orderId", o.ID, "topic", p.topic, "partition", partition, "offset", offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
