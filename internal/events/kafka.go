package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	sdk "github.com/segmentio/kafka-go"

	"github.com/kozaktomas/facepass/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...sdk.Message) error
	Close() error
}

// Kafka publishes JSON-encoded events to a single topic.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a synchronous producer for cfg.Topic.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &Kafka{writer: &sdk.Writer{
		Addr:                   sdk.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &sdk.Hash{},
		RequiredAcks:           sdk.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}, nil
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	serialized, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = k.writer.WriteMessages(ctx, sdk.Message{
		Key:   []byte(ev.Key),
		Value: serialized,
		Headers: []sdk.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// NewPublisher returns a Kafka publisher when brokers are configured, Nop otherwise.
func NewPublisher(cfg config.KafkaConfig) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return Nop{}, nil
	}
	return NewKafka(cfg)
}

var _ Publisher = (*Kafka)(nil)
