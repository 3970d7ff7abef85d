package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig contains configurable parameters for the Kafka notifier.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the topic workflow events are written to.
	Topic string

	// MaxAttempts is how many times a publish is retried on transient
	// error. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// KafkaNotifier publishes workflow events through segmentio/kafka-go.
// Messages are keyed by shipment id so events for one shipment land on
// one partition and keep their order.
type KafkaNotifier struct {
	writer      *kafka.Writer
	maxAttempts int
}

func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	return &KafkaNotifier{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

type envelope struct {
	Event   string      `json:"event"`
	Ts      time.Time   `json:"ts"`
	Payload interface{} `json:"payload"`
}

// Notify publishes the event. Failures are logged and swallowed: event
// delivery must never fail a committed state change.
func (n *KafkaNotifier) Notify(ctx context.Context, event, key string, payload interface{}) {
	value, err := json.Marshal(envelope{Event: event, Ts: time.Now().UTC(), Payload: payload})
	if err != nil {
		log.Printf("[notify] marshal %s: %v", event, err)
		return
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		ctxAttempt, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := n.writer.WriteMessages(ctxAttempt, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Time:  time.Now().UTC(),
		})
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	log.Printf("[notify] publish %s failed after %d attempts: %v", event, n.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
