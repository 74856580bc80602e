// Package kafka публикация и чтение событий entitlement.changed.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
)

// TopicEntitlementChanged топик по умолчанию для изменений доступа
const TopicEntitlementChanged = "entitlement.changed"

const (
	publishRetries = 3
	writeTimeout   = 10 * time.Second
)

// messageWriter часть kafka.Writer, которая нужна продюсеру.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer публикует domain.EntitlementChanged в Kafka. Ключ сообщения ID пользователя,
// поэтому события одного пользователя попадают в одну партицию и сохраняют порядок.
type Producer struct {
	writer messageWriter
	topic  string
	log    *logger.Logger
	retry  time.Duration
}

// NewProducer создает продюсер поверх segmentio/kafka-go.
func NewProducer(brokers []string, topic string, log *logger.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}
	if topic == "" {
		topic = TopicEntitlementChanged
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
		ReadTimeout:  writeTimeout,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers, "topic", topic)
	return newProducer(writer, topic, log), nil
}

func newProducer(w messageWriter, topic string, log *logger.Logger) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		log:    log,
		retry:  200 * time.Millisecond,
	}
}

// PublishEntitlementChanged отправляет событие, повторяя запись до трех раз.
func (p *Producer) PublishEntitlementChanged(ctx context.Context, event domain.EntitlementChanged) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal entitlement event: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(p.topic)},
			{Key: "reason", Value: []byte(event.Reason)},
		},
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retry
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.log.Warnw("Kafka write failed", "topic", p.topic, "userID", event.UserID, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, publishRetries), ctx))
	if err != nil {
		p.log.Errorw("Failed to publish entitlement event", "topic", p.topic, "userID", event.UserID, "error", err)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	p.log.Debugw("Published entitlement event", "topic", p.topic, "userID", event.UserID, "version", event.Version)
	return nil
}

// Close закрывает writer; вызывается при остановке после EntitlementWriter.Wait.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		p.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	p.log.Infow("Kafka producer closed")
	return nil
}

// NoopPublisher используется, когда KAFKA_BROKERS не задан.
type NoopPublisher struct {
	log *logger.Logger
}

// NewNoopPublisher создает публикатор, который только пишет событие в лог.
func NewNoopPublisher(log *logger.Logger) *NoopPublisher {
	return &NoopPublisher{log: log}
}

func (n *NoopPublisher) PublishEntitlementChanged(_ context.Context, event domain.EntitlementChanged) error {
	n.log.Debugw("Entitlement event not published, Kafka disabled", "userID", event.UserID, "to", event.To)
	return nil
}

func (n *NoopPublisher) Close() error { return nil }
