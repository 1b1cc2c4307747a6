package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

const (
	KindConnectionCreated   = "connection.created"
	KindConnectionDeleted   = "connection.deleted"
	KindConnectionUnhealthy = "connection.unhealthy"
	KindConnectionValidated = "connection.validated"
	KindConnectionFailed    = "connection.failed"
	KindSampleFetched       = "sample.fetched"
	KindFieldsDiscovered    = "fields.discovered"
	KindScheduleUpdated     = "schedule.updated"
	KindSyncRequested       = "sync.requested"
)

// Event is a notification about a supplier connection.
type Event struct {
	Type         Type      `json:"type"`
	Kind         string    `json:"kind"`
	Shop         string    `json:"shop"`
	ConnectionID string    `json:"connectionId,omitempty"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Emit stamps the event and publishes it. Failures are logged and never
// returned to the caller.
func Emit(ctx context.Context, p Publisher, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := p.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish event", "kind", event.Kind, "shop", event.Shop, "error", err)
	}
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	switch event.Type {
	case TypeError:
		level = slog.LevelError
	case TypeWarning:
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, event.Message,
		"event_type", event.Type,
		"kind", event.Kind,
		"shop", event.Shop,
		"connection_id", event.ConnectionID,
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

// PublishTimeout bounds how long Publish may wait on broker metadata.
const PublishTimeout = time.Second

// KafkaPublisher writes JSON events keyed by shop. Writes are asynchronous;
// delivery failures are logged by the writer's completion callback.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		WriteTimeout: 5 * time.Second,
		Completion:   logDeliveryErrors,
	}
	return &KafkaPublisher{writer: writer}
}

func logDeliveryErrors(messages []kafka.Message, err error) {
	if err != nil {
		slog.Warn("failed to deliver events", "count", len(messages), "error", err)
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	return p.writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(event.Shop),
			Value: value,
			Time:  event.Timestamp,
		},
	)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Multi fans an event out to every publisher.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
