package kafka

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// EnsureTopics проверяет и создает топики доменных событий биллинга
func EnsureTopics(brokers []string, log *zap.SugaredLogger) error {
	if len(brokers) == 0 {
		return errors.New("kafka broker address is empty")
	}

	requiredTopics := map[string]*sarama.TopicDetail{
		TopicSubscriptionCreated:  {NumPartitions: 3, ReplicationFactor: 1},
		TopicSubscriptionUpdated:  {NumPartitions: 3, ReplicationFactor: 1},
		TopicSubscriptionCanceled: {NumPartitions: 2, ReplicationFactor: 1},
		TopicInvoiceMirrored:      {NumPartitions: 2, ReplicationFactor: 1},
	}

	admin, err := sarama.NewClusterAdmin(brokers, NewSaramaConfig())
	if err != nil {
		log.Errorw("Failed to connect to Kafka for topic creation", "brokers", brokers, "error", err)
		return fmt.Errorf("kafka admin connection failed: %w", err)
	}
	defer admin.Close()

	existing, err := admin.ListTopics()
	if err != nil {
		log.Errorw("Failed to list Kafka topics", "error", err)
		return fmt.Errorf("kafka list topics failed: %w", err)
	}

	for name, detail := range requiredTopics {
		if _, ok := existing[name]; ok {
			log.Debugw("Topic already exists", "topic", name)
			continue
		}
		if err := admin.CreateTopic(name, detail, false); err != nil {
			var topicErr *sarama.TopicError
			if errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
				log.Warnw("Topic already existed during creation attempt", "topic", name)
				continue
			}
			log.Errorw("Failed to create topic", "topic", name, "error", err)
			return fmt.Errorf("kafka create topic %s failed: %w", name, err)
		}
		log.Infow("Created Kafka topic", "topic", name)
	}

	return nil
}
