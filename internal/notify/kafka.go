package notify

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/baouih/binance-sub015/config"
)

// KafkaNotifier publishes notifications to a Kafka topic so downstream
// alerting services can consume trade events.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	enabled  bool
}

// NewKafkaNotifier connects a synchronous producer to the configured brokers.
func NewKafkaNotifier(cfg config.KafkaConfig) (*KafkaNotifier, error) {
	if !cfg.Enabled {
		return &KafkaNotifier{}, nil
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaNotifier{
		producer: producer,
		topic:    cfg.Topic,
		enabled:  true,
	}, nil
}

func (k *KafkaNotifier) Name() string { return "kafka" }

func (k *KafkaNotifier) Enabled() bool { return k.enabled }

// Send publishes the notification as a JSON event keyed by symbol.
func (k *KafkaNotifier) Send(n *Notification) error {
	if !k.enabled {
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(data),
	}
	if n.Symbol != "" {
		msg.Key = sarama.StringEncoder(n.Symbol)
	}

	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close shuts the producer down.
func (k *KafkaNotifier) Close() error {
	if k.producer == nil {
		return nil
	}
	return k.producer.Close()
}
