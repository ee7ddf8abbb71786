package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Топики доменных событий биллинга
const (
	TopicSubscriptionCreated  = "billing.subscription.created"
	TopicSubscriptionUpdated  = "billing.subscription.updated"
	TopicSubscriptionCanceled = "billing.subscription.canceled"
	TopicInvoiceMirrored      = "billing.invoice.mirrored"
)

// Producer определяет интерфейс для публикации доменных событий в Kafka.
// Ключ сообщения - id подписки: события одной подписки попадают в одну
// партицию и сохраняют порядок.
type Producer interface {
	Publish(topic, key string, payload any) error
	Close() error
}

type saramaProducer struct {
	producer sarama.SyncProducer
	log      *zap.SugaredLogger
}

// NewProducer создает синхронный продюсер Kafka с ретраями подключения.
// Брокер может подниматься дольше сервиса, поэтому подключение оборачивается
// в экспоненциальный backoff.
func NewProducer(brokers []string, log *zap.SugaredLogger) (Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are not configured")
	}

	cfg := NewSaramaConfig()

	var producer sarama.SyncProducer
	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(brokers, cfg)
		if err != nil {
			log.Warnw("Kafka not ready, retrying", "error", err, "brokers", brokers)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("kafka: failed to connect producer: %w", err)
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)
	return &saramaProducer{producer: producer, log: log}, nil
}

// Publish сериализует payload в JSON и отправляет в указанный топик
func (p *saramaProducer) Publish(topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		p.log.Errorw("Failed to marshal event for Kafka", "error", err, "topic", topic, "key", key)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "key", key)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	p.log.Debugw("Published message to Kafka", "topic", topic, "key", key, "partition", partition, "offset", offset)
	return nil
}

// Close закрывает соединение продюсера
func (p *saramaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		p.log.Errorw("Failed to close Kafka producer", "error", err)
		return fmt.Errorf("kafka: failed to close producer: %w", err)
	}
	p.log.Infow("Kafka producer closed")
	return nil
}
