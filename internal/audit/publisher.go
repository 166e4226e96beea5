package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"beautycort-auth/internal/client"
	"beautycort-auth/internal/models"
	"beautycort-auth/internal/util"
)

// Sink receives structured security events. Implementations must never block
// the caller: a slow audit pipeline cannot be allowed to slow down an auth
// decision.
type Sink interface {
	Emit(event *models.SecurityEvent)
}

type eventStore interface {
	InsertSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
}

// Publisher fans events out to Kafka and the durable security_events trail.
// Both targets are best effort; failures are logged and dropped.
type Publisher struct {
	producer *client.KafkaProducer
	store    eventStore
	topic    string
	timeout  time.Duration
}

func NewPublisher(producer *client.KafkaProducer, store eventStore, topic string) *Publisher {
	return &Publisher{
		producer: producer,
		store:    store,
		topic:    topic,
		timeout:  5 * time.Second,
	}
}

// Emit publishes asynchronously and returns immediately.
func (p *Publisher) Emit(event *models.SecurityEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	go p.publish(event)
}

func (p *Publisher) publish(event *models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if p.producer != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			util.Warn("Failed to marshal security event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
			return
		}

		if err := p.producer.ProduceMessage(ctx, p.topic, []byte(event.Identifier), payload, nil); err != nil {
			util.Warn("Failed to publish security event to Kafka",
				zap.String("event_type", event.EventType),
				zap.String("identifier", event.Identifier),
				zap.Error(err))
		}
	}

	if p.store != nil {
		if err := p.store.InsertSecurityEvent(ctx, event); err != nil {
			util.Warn("Failed to persist security event",
				zap.String("event_type", event.EventType),
				zap.String("identifier", event.Identifier),
				zap.Error(err))
		}
	}
}
