package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/IBM/sarama"
)

// Delivery прочитанное событие вместе с координатами в топике
type Delivery struct {
	Event     domain.EntitlementChanged
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// HandlerFunc обрабатывает одно событие. Ошибка останавливает чтение.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Consumer читает entitlement.changed через группу потребителей Sarama.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler HandlerFunc
	log     *logger.Logger
}

// NewConsumer подключается к брокерам и создает группу потребителей.
func NewConsumer(cfg ConsumerConfig, handler HandlerFunc, log *logger.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicEntitlementChanged
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Group, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create consumer group: %w", err)
	}
	log.Infow("Kafka consumer group created", "brokers", cfg.Brokers, "group", cfg.Group, "topic", cfg.Topic)

	return &Consumer{group: group, topic: cfg.Topic, handler: handler, log: log}, nil
}

// Run читает топик, пока не отменят ctx. После ребалансировки Consume вызывается снова.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.log.Warnw("Kafka consumer error", "error", err)
		}
	}()

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("kafka: consume failed: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close закрывает группу потребителей
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup реализует sarama.ConsumerGroupHandler
func (c *Consumer) Setup(sess sarama.ConsumerGroupSession) error {
	c.log.Debugw("Kafka consumer session started", "claims", sess.Claims())
	return nil
}

// Cleanup реализует sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim реализует sarama.ConsumerGroupHandler
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			d, err := decodeDelivery(msg)
			if err != nil {
				c.log.Warnw("Skipping malformed entitlement event", "partition", msg.Partition, "offset", msg.Offset, "error", err)
				sess.MarkMessage(msg, "")
				continue
			}
			if err := c.handler(sess.Context(), d); err != nil {
				return err
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

func decodeDelivery(msg *sarama.ConsumerMessage) (Delivery, error) {
	var event domain.EntitlementChanged
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Delivery{}, err
	}
	if event.UserID == "" {
		event.UserID = string(msg.Key)
	}
	return Delivery{
		Event:     event,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Timestamp,
	}, nil
}
