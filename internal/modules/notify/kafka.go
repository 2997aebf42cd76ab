package notify

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka streams every transition keyed by request id, so a consumer sees
// one request's events in order.
type Kafka struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{writer: w, timeout: 2 * time.Second}
}

func (k *Kafka) Notify(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := e.RequestID
	if key == "" {
		key = e.RideID
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *Kafka) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
