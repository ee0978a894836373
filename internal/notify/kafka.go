package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// producer is the subset of *kgo.Client used here.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaNotifier publishes notifications as JSON, keyed by alarm ID so alerts for
// one alarm stay ordered within a partition.
type KafkaNotifier struct {
	topic   string
	client  producer
	timeout time.Duration
	logger  *zap.Logger
}

func NewKafkaNotifier(brokers []string, topic string, timeout time.Duration, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka notifier: topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka notifier: %w", err)
	}
	if logger != nil {
		logger.Info("kafka notifier initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	}
	return newKafkaNotifier(client, topic, timeout, logger), nil
}

func newKafkaNotifier(client producer, topic string, timeout time.Duration, logger *zap.Logger) *KafkaNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{topic: topic, client: client, timeout: timeout, logger: logger}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	rec := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(n.AlarmID.String()),
		Value: value,
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	for _, r := range k.client.ProduceSync(ctx, rec) {
		if r.Err != nil {
			return fmt.Errorf("publish notification: %w", r.Err)
		}
	}
	k.logger.Debug("notification published", zap.String("topic", k.topic), zap.String("alarmId", n.AlarmID.String()))
	return nil
}

func (k *KafkaNotifier) Close() error {
	k.client.Close()
	return nil
}
