package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/factory"
)

// Message is the wire form of a payment lifecycle event.
type Message struct {
	ID         uint64          `json:"id"`
	PaymentID  string          `json:"payment_id"`
	EventType  string          `json:"event_type"`
	OldStatus  string          `json:"old_status,omitempty"`
	NewStatus  string          `json:"new_status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event *entity.PaymentEvent) error
	Close() error
}

func NewMessage(event *entity.PaymentEvent) Message {
	msg := Message{
		ID:         event.ID,
		PaymentID:  event.PaymentID,
		EventType:  event.EventType,
		NewStatus:  string(event.NewStatus),
		OccurredAt: event.CreatedAt.UTC(),
	}
	if event.OldStatus != nil {
		msg.OldStatus = string(*event.OldStatus)
	}
	if event.PayloadJSON != nil && json.Valid([]byte(*event.PayloadJSON)) {
		msg.Payload = json.RawMessage(*event.PayloadJSON)
	}
	return msg
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys every message by payment id so one payment's events land
// on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
	logger logrus.FieldLogger
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	parsed := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if b := strings.TrimSpace(broker); b != "" {
			parsed = append(parsed, b)
		}
	}
	if len(parsed) == 0 {
		return nil, errors.New("kafka publisher: brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(parsed...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
	}
	return newKafkaPublisher(writer), nil
}

func newKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: factory.NewModuleLogger("publisher")}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *entity.PaymentEvent) error {
	value, err := json.Marshal(NewMessage(event))
	if err != nil {
		return fmt.Errorf("encode payment event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.PaymentID),
		Value: value,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish payment event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the log when no broker is configured.
type LogPublisher struct {
	logger logrus.FieldLogger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: factory.NewModuleLogger("publisher")}
}

func (p *LogPublisher) Publish(_ context.Context, event *entity.PaymentEvent) error {
	msg := NewMessage(event)
	p.logger.WithFields(logrus.Fields{
		"payment_id": msg.PaymentID,
		"event_type": msg.EventType,
		"old_status": msg.OldStatus,
		"new_status": msg.NewStatus,
	}).Info("payment_event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
