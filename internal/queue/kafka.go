package queue

import (
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/birbparty/countly-nest/sdk"
)

// NewKafkaProducer creates a synchronous producer that waits for all
// in-sync replicas and hashes on the message key
func NewKafkaProducer(cfg *Config) (sarama.SyncProducer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.KafkaClientID
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaQueue is an sdk.Queue writing each command to a Kafka topic keyed by
// app key, so one app's commands land in one partition in push order.
type KafkaQueue struct {
	mu       sync.Mutex
	producer sarama.SyncProducer
	topic    string
	appKey   string
	metadata map[string]string
}

// NewKafkaQueue returns a queue for appKey on topic
func NewKafkaQueue(producer sarama.SyncProducer, topic, appKey string, metadata map[string]string) *KafkaQueue {
	return &KafkaQueue{
		producer: producer,
		topic:    topic,
		appKey:   appKey,
		metadata: metadata,
	}
}

// Push implements sdk.Queue
func (q *KafkaQueue) Push(cmd sdk.Command) error {
	msg, err := NewCommandMessage(q.appKey, cmd, q.metadata)
	if err != nil {
		return err
	}
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal command message: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	_, _, err = q.producer.SendMessage(&sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(q.appKey),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("message_id"), Value: []byte(msg.ID)},
			{Key: []byte("tag"), Value: []byte(cmd.Tag())},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka send %s for %s: %w", cmd.Tag(), q.appKey, err)
	}
	return nil
}
