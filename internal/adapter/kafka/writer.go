// Package kafka publishes delivery records to a Kafka topic so downstream
// consumers (analytics, audit) see every alert outcome.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/flow-alert-service/internal/dispatch"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces alert-event messages. It implements
// dispatch.EventPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the alert-event topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes one delivery record and writes it keyed by user so a
// user's alert history stays ordered within a partition.
func (w *Writer) Publish(ctx context.Context, rec dispatch.Record) error {
	msg, err := serializeToMessage(rec)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func serializeToMessage(rec dispatch.Record) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize delivery record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.UserID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "reach_id", Value: []byte(rec.ReachID)},
			{Key: "priority", Value: []byte(rec.Priority)},
			{Key: "sent_at", Value: []byte(rec.At.Format(time.RFC3339))},
		},
	}, nil
}
