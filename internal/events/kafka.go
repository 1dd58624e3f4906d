package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultTopic = "settlement.events"

// KafkaPublisher writes settlement events keyed by transaction id so every
// change for one transaction lands on the same partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaPublisher(brokers []string, clientID, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return newKafkaPublisher(producer, topic, logger), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.TransactionID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	p.logger.Debug("settlement event sent",
		zap.String("event_type", ev.EventType),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// KafkaSource consumes the settlement topic and feeds a hub. Each service
// instance reads with its own group so every instance sees every event.
type KafkaSource struct {
	reader *kafka.Reader
	logger *zap.Logger
}

func NewKafkaSource(brokers []string, topic, groupID string, logger *zap.Logger) *KafkaSource {
	if topic == "" {
		topic = DefaultTopic
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
	})
	return &KafkaSource{reader: r, logger: logger}
}

// Run blocks until ctx is done.
func (s *KafkaSource) Run(ctx context.Context, hub *Hub) error {
	defer s.reader.Close()
	s.logger.Info("kafka settlement event source started")

	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			s.logger.Error("kafka read error", zap.Error(err))
			continue
		}

		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			s.logger.Warn("dropping malformed settlement event",
				zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		hub.Dispatch(&ev)
	}
}
