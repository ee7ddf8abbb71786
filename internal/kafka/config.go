package kafka

import (
	"github.com/IBM/sarama"
)

// NewSaramaConfig создает конфигурацию Sarama для продюсера
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()

	cfg.Version = sarama.V3_3_0_0

	cfg.Producer.MaxMessageBytes = 1000000
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	return cfg
}
