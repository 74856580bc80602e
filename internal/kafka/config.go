package kafka

import (
	"github.com/IBM/sarama"
)

// ConsumerConfig настройки чтения событий для runsheetctl events tail
type ConsumerConfig struct {
	Brokers    []string
	Topic      string
	Group      string
	FromOldest bool
}

// NewSaramaConfig создает конфигурацию Sarama для группы потребителей.
func NewSaramaConfig(cfg ConsumerConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_3_0_0
	saramaConfig.ClientID = "runsheetctl"

	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.FromOldest {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.IsolationLevel = sarama.ReadCommitted
	saramaConfig.Consumer.Return.Errors = true

	return saramaConfig
}
