// Package notify publishes booking events to Kafka.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"acomody/internal/adapters/observability"
	"acomody/internal/domain"
)

type Config struct {
	Brokers  []string
	Topic    string
	RetryMax int
	Timeout  time.Duration
}

// Kafka is a domain.Notifier backed by a sarama SyncProducer.
// Messages are keyed by booking id so one booking's events stay ordered.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

var _ domain.Notifier = (*Kafka)(nil)

func NewKafka(cfg Config) (*Kafka, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Retry.Max = cfg.RetryMax
	if sc.Producer.Retry.Max <= 0 {
		sc.Producer.Retry.Max = 3
	}
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
	}

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaWithProducer(p, cfg.Topic), nil
}

func NewKafkaWithProducer(p sarama.SyncProducer, topic string) *Kafka {
	if topic == "" {
		topic = "booking-events"
	}
	return &Kafka{producer: p, topic: topic}
}

type envelope struct {
	Event   domain.BookingEvent `json:"event"`
	Payload any                 `json:"payload"`
}

func (k *Kafka) Send(ctx context.Context, event domain.BookingEvent, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(event)},
		},
		Timestamp: time.Now().UTC(),
	}
	if n, ok := payload.(domain.BookingNotice); ok {
		msg.Key = sarama.StringEncoder(n.BookingID)
		msg.Timestamp = n.OccurredAt
	}

	start := time.Now()
	partition, offset, err := k.producer.SendMessage(msg)
	status := 200
	if err != nil {
		status = 500
	}
	observability.ObserveExternal("kafka", k.topic, status, time.Since(start))
	if err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	log.Debug().Str("topic", k.topic).Int32("partition", partition).Int64("offset", offset).
		Str("event", string(event)).Msg("booking event published")
	return nil
}

func (k *Kafka) Close() error { return k.producer.Close() }
