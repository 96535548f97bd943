package kafka

import (
	"strings"
	"time"

	"PRealtime/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

func BuildBaseConfig(c AppConfig) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.KafkaVersion

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ 关键：Key 控制分区（同一用户的推送有序）
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// Producer 同步生产者及其 client
type Producer struct {
	Client sarama.Client
	Sync   sarama.SyncProducer
}

// NewSyncProducer 建 client（可选建 topic）后从 client 派生同步生产者
func NewSyncProducer(c AppConfig, log *zap.Logger) (*Producer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := sarama.NewClient(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", strings.Join(c.Brokers, ","))
	}
	if c.AutoCreateTopicsOnStart && len(c.Topics) > 0 {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		if err := EnsureTopics(admin, c, log); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return &Producer{Client: client, Sync: p}, nil
}

func (p *Producer) Close() error {
	if err := p.Sync.Close(); err != nil {
		return err
	}
	return p.Client.Close()
}
