// Package ingest publishes one record per resolved negotiation to Kafka for
// downstream analytics. Best-effort: a publish failure never reaches the
// negotiation path.
package ingest

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-negotiation/internal/models"
)

type OutcomeProducer struct {
	writer *kafka.Writer
}

func NewOutcomeProducer(brokers []string, topic string) *OutcomeProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &OutcomeProducer{writer: w}
}

// Publish writes the outcome keyed by ride request id, so all records for
// one request land on the same partition.
func (p *OutcomeProducer) Publish(ctx context.Context, o models.NegotiationOutcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(o.RideRequestID), Value: b})
}

func (p *OutcomeProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
