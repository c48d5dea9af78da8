package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"azkaban/internal/audit/domain"
)

type decisionEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a producer that writes decision events to topic.
// Returns nil (no producer) when brokers or topic are unset. Call Close when
// shutting down.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Emit serializes the entry as JSON and writes it to the topic, keyed by
// user id so a consumer sees one user's decisions in order. A short timeout
// keeps a slow broker from blocking request handling.
func (p *KafkaProducer) Emit(ctx context.Context, entry *domain.DecisionLog) error {
	if p == nil || p.writer == nil || entry == nil {
		return nil
	}
	payload, err := json.Marshal(decisionEvent{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Resource:  entry.Resource,
		Action:    entry.Action,
		Outcome:   entry.Outcome,
		Reason:    entry.Reason,
		IP:        entry.IP,
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(entry.UserID),
		Value: payload,
	})
}

// Close closes the Kafka writer. Safe to call multiple times.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
