package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"regdesk/internal/platform/config"
	"regdesk/pkg/platform/circuit"
	"regdesk/pkg/platform/sentinel"
)

// Producer is the subset of *kgo.Client used for publishing.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Kafka publishes JSON events keyed by registration id so every event for
// one registration lands on the same partition.
type Kafka struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *zap.Logger
}

type KafkaOption func(*Kafka)

func WithLogger(logger *zap.Logger) KafkaOption {
	return func(k *Kafka) { k.logger = logger }
}

func WithBreaker(b *circuit.Breaker) KafkaOption {
	return func(k *Kafka) { k.breaker = b }
}

func NewKafka(producer Producer, topic string, opts ...KafkaOption) *Kafka {
	k := &Kafka{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("kafka"),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Kafka) Publish(ctx context.Context, event Event) error {
	if !k.breaker.Allow() {
		return fmt.Errorf("publish %s: circuit open: %w", event.Type, sentinel.ErrUnavailable)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	rec := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.RegistrationID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := k.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if _, change := k.breaker.RecordFailure(); change.Opened {
			k.logger.Warn("event publishing circuit opened", zap.String("topic", k.topic), zap.Error(err))
		}
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	if _, change := k.breaker.RecordSuccess(); change.Closed {
		k.logger.Info("event publishing circuit closed", zap.String("topic", k.topic))
	}
	return nil
}

// Connect builds a franz-go client for cfg and makes sure the topic exists.
// The caller owns the returned client.
func Connect(ctx context.Context, cfg config.KafkaConfig, logger *zap.Logger) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping kafka: %w", err)
	}
	if err := EnsureTopic(ctx, kadm.NewClient(client), cfg); err != nil {
		client.Close()
		return nil, err
	}
	logger.Info("kafka connected", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return client, nil
}

// TopicAdmin is the subset of *kadm.Client needed to create the topic.
type TopicAdmin interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

func EnsureTopic(ctx context.Context, adm TopicAdmin, cfg config.KafkaConfig) error {
	partitions, rf := cfg.Partitions, cfg.ReplicationFactor
	if partitions <= 0 {
		partitions = 1
	}
	if rf <= 0 {
		rf = 1
	}
	resp, err := adm.CreateTopics(ctx, partitions, rf, nil, cfg.Topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", cfg.Topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
