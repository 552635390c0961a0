package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

// channelToTopicAndKey maps a service channel to a topic and message key.
//
//	"caption:service:100:liveness" → topic: "caption-liveness", key: "100"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "service" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0] + "-" + strings.ReplaceAll(parts[3], "_", "-"), parts[2], nil
}

// fixedTopics lists the topics created at startup.
func fixedTopics() []string {
	topic, _, _ := channelToTopicAndKey(LivenessChannel("any"))
	return []string{topic}
}

const (
	defaultPartitions = 4
	flushTimeoutMs    = 5000
)

// KafkaBus publishes events to Kafka topics keyed by service id, so one
// service's events stay ordered within a partition.
type KafkaBus struct {
	producer *kafka.Producer
	config   KafkaConfig
	done     chan struct{}
}

func (c KafkaConfig) producerConfig() *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers": c.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	}
}

func (c KafkaConfig) partitions() int {
	if c.Partitions <= 0 {
		return defaultPartitions
	}
	return c.Partitions
}

// NewKafkaBus connects a producer and makes sure the liveness topic exists.
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	p, err := kafka.NewProducer(cfg.producerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaBus{
		producer: p,
		config:   cfg,
		done:     make(chan struct{}),
	}
	go k.watchDeliveries()

	if err := k.createTopics(); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Msg("kafka topic setup failed, assuming topics exist")
	}
	return k, nil
}

func (k *KafkaBus) createTopics() error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": k.config.Brokers})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	topics := fixedTopics()
	specs := make([]kafka.TopicSpecification, 0, len(topics))
	for _, name := range topics {
		specs = append(specs, kafka.TopicSpecification{Topic: name, NumPartitions: k.config.partitions(), ReplicationFactor: 1})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	l := pkglog.L()
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
		default:
			l.Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("topic not created")
		}
	}
	return nil
}

// watchDeliveries logs failed deliveries until the producer is closed.
func (k *KafkaBus) watchDeliveries() {
	defer close(k.done)
	l := pkglog.L()
	for e := range k.producer.Events() {
		msg, ok := e.(*kafka.Message)
		if ok && msg.TopicPartition.Error != nil {
			l.Error().Err(msg.TopicPartition.Error).Str("key", string(msg.Key)).Msg("liveness event not delivered")
		}
	}
}

// Publish produces the event on the channel's topic keyed by service id.
func (k *KafkaBus) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return err
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}
	if err := k.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the producer.
func (k *KafkaBus) Close() error {
	k.producer.Flush(flushTimeoutMs)
	k.producer.Close()
	<-k.done
	return nil
}
