package bus

import (
	"encoding/json"
	"time"

	"PulseIM/logger"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	Brokers    []string
	TopicCount int
	GatewayID  string
}

// Bus publishes realtime events onto the sharded Kafka topics. Every
// gateway instance consumes all shards under its own group id, so one
// Emit reaches every instance in the cluster.
type Bus struct {
	producer sarama.SyncProducer
	topics   []string
	origin   string
}

func baseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 1
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func New(c Config) (*Bus, error) {
	client, err := sarama.NewClient(c.Brokers, baseConfig())
	if err != nil {
		return nil, errors.Wrap(err, "kafka client")
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, errors.Wrap(err, "kafka producer")
	}
	return &Bus{
		producer: producer,
		topics:   GenTopics(c.TopicCount),
		origin:   c.GatewayID,
	}, nil
}

func (b *Bus) Topics() []string { return b.topics }

// Emit broadcasts one event to the cluster. Bus failures are logged,
// not surfaced: realtime fan-out is best-effort, the durable path runs
// through the delivery queue.
func (b *Bus) Emit(scope, target, name string, payload interface{}) {
	b.EmitFrom(scope, target, name, payload, "")
}

// EmitFrom is Emit with an origin connection to exclude on delivery;
// used for ephemeral room events like typing indicators.
func (b *Bus) EmitFrom(scope, target, name string, payload interface{}, originConn string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error("bus payload marshal failed", zap.String("event", name), zap.Error(err))
		return
	}
	ev := Event{
		Scope:   scope,
		Target:  target,
		Name:    name,
		Payload: raw,
		Origin:  b.origin,
		Conn:    originConn,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("bus event marshal failed", zap.String("event", name), zap.Error(err))
		return
	}

	key := target
	if key == "" {
		key = name
	}
	msg := &sarama.ProducerMessage{
		Topic: SelectTopic(key, b.topics),
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		logger.Error("bus emit failed",
			zap.String("event", name), zap.String("scope", scope), zap.Error(err))
	}
}

func (b *Bus) Close() error {
	return b.producer.Close()
}
