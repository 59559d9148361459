package opslog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"custos/internal/platform/config"
	"custos/pkg/requestcontext"
)

// KafkaSink publishes operational events to a Kafka topic. Produce is async;
// delivery failures are logged and dropped, never surfaced to the caller.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafkaSink(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{client: client, topic: cfg.Topic, logger: logger}, nil
}

func (s *KafkaSink) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("oplog marshal failed", "action", event.Action, "error", err)
		return
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.EntityID),
		Value: payload,
	}
	// Async produce keeps the request path off the broker round trip.
	s.client.Produce(context.WithoutCancel(ctx), record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.Error("oplog produce failed", "action", event.Action, "error", err)
		}
	})
}

// Close flushes pending records and releases the client.
func (s *KafkaSink) Close(ctx context.Context) error {
	if err := s.client.Flush(ctx); err != nil {
		return err
	}
	s.client.Close()
	return nil
}
