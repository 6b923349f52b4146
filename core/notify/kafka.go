package notify

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/popstats/core"
	"github.com/relabs-tech/popstats/core/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a kafka topic
type Kafka struct {
	writer messageWriter
}

// NewKafka returns a Kafka notifier for the comma separated list of brokers
func NewKafka(brokers, topic string) *Kafka {
	addrs := []string{}
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
}

// Notify implements core.Notifier. The message key is the event, the value the payload.
func (k *Kafka) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(Event(resource, operation)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "resource", Value: []byte(resource)},
			{Key: "operation", Value: []byte(operation)},
			{Key: "logger", Value: logger.SerializeLoggerContext(ctx)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}
	logger.FromContext(ctx).Debugf("published %s to kafka", Event(resource, operation))
	return nil
}

// Close flushes pending messages and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
