package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/logger"

	kafkago "github.com/segmentio/kafka-go"
)

const topicPartitions = 3

// EnsureTopics создает топик событий, если его еще нет. Операции идут через контроллер кластера.
func EnsureTopics(ctx context.Context, brokers []string, topic string, log *logger.Logger) error {
	if topic == "" {
		topic = TopicEntitlementChanged
	}
	if len(brokers) == 0 || strings.TrimSpace(brokers[0]) == "" {
		log.Errorw("Kafka broker address is empty")
		return errors.New("kafka broker address is empty")
	}
	broker := strings.TrimSpace(brokers[0])
	if err := validateBroker(broker); err != nil {
		log.Errorw("Invalid Kafka broker address", "broker", broker, "error", err)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := kafkago.DialContext(dialCtx, "tcp", broker)
	if err != nil {
		log.Errorw("Failed to connect to Kafka broker", "broker", broker, "error", err)
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err == nil && len(partitions) > 0 {
		log.Debugw("Kafka topic already exists", "topic", topic, "partitions", len(partitions))
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller lookup failed: %w", err)
	}
	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := kafkago.DialContext(dialCtx, "tcp", controllerAddr)
	if err != nil {
		log.Errorw("Failed to connect to Kafka controller", "controller", controllerAddr, "error", err)
		return fmt.Errorf("kafka controller connection failed: %w", err)
	}
	defer ctrlConn.Close()

	err = ctrlConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     topicPartitions,
		ReplicationFactor: 1,
	})
	if errors.Is(err, kafkago.TopicAlreadyExists) {
		log.Warnw("Kafka topic was created concurrently", "topic", topic)
		return nil
	}
	if err != nil {
		log.Errorw("Failed to create Kafka topic", "topic", topic, "error", err)
		return fmt.Errorf("kafka create topic failed: %w", err)
	}

	log.Infow("Kafka topic created", "topic", topic, "partitions", topicPartitions)
	return nil
}

func validateBroker(broker string) error {
	_, port, err := net.SplitHostPort(broker)
	if err != nil {
		return fmt.Errorf("invalid broker address %s: %w", broker, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid broker port %s: %w", broker, err)
	}
	return nil
}
