package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

// Config holds consumer settings.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ConfluentConsumer implements PresenterEventConsumer using confluent-kafka-go.
type ConfluentConsumer struct {
	consumer *kafka.Consumer
	topic    string
	handler  PresenterEventHandler
	cancel   context.CancelFunc
	doneCh   chan struct{}
}

// NewConfluentConsumer creates a new Kafka consumer for presenter events.
func NewConfluentConsumer(cfg Config, handler PresenterEventHandler) (*ConfluentConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &ConfluentConsumer{
		consumer: c,
		topic:    cfg.Topic,
		handler:  handler,
		doneCh:   make(chan struct{}),
	}, nil
}

// Start subscribes and begins consuming in the background.
func (cc *ConfluentConsumer) Start(ctx context.Context) error {
	if err := cc.consumer.Subscribe(cc.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", cc.topic, err)
	}

	ctx, cc.cancel = context.WithCancel(ctx)
	l := pkglog.L()
	l.Info().Str("topic", cc.topic).Msg("presenter event consumer started")

	go cc.consumeLoop(ctx)
	return nil
}

func (cc *ConfluentConsumer) consumeLoop(ctx context.Context) {
	defer close(cc.doneCh)
	l := pkglog.L()

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("presenter event consumer shutting down")
			return
		default:
		}

		msg, err := cc.consumer.ReadMessage(100 * time.Millisecond)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			l.Error().Err(err).Msg("kafka consumer error")
			continue
		}

		if err := processMessage(ctx, cc.handler, msg); err != nil {
			l.Warn().Err(err).Str("topic", cc.topic).Msg("presenter event dropped")
		}
	}
}

// processMessage decodes one record. The record key names the service when
// the payload does not.
func processMessage(ctx context.Context, handler PresenterEventHandler, msg *kafka.Message) error {
	var event PresenterEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal presenter event: %w", err)
	}
	if event.ServiceID == "" {
		event.ServiceID = string(msg.Key)
	}
	if event.ServiceID == "" {
		return ErrMissingServiceID
	}

	l := pkglog.L()
	l.Debug().
		Str(pkglog.FieldEvent, event.Type).
		Str(pkglog.FieldServiceID, event.ServiceID).
		Msg("presenter event received")

	return handler.HandlePresenterEvent(ctx, &event)
}

// Close stops the loop and releases the consumer.
func (cc *ConfluentConsumer) Close() error {
	if cc.cancel != nil {
		cc.cancel()
		<-cc.doneCh
	}
	if err := cc.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	return nil
}
