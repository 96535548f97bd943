package kafka

import "github.com/Shopify/sarama"

// AppConfig 推送队列用到的生产端配置
type AppConfig struct {
	Brokers                 []string
	Topics                  []string
	PartitionsPerTopic      int32 // Demo: 8；生产按量
	ReplicationFactor       int16 // 单机=1；生产=3
	ProducerRetries         int
	ProducerCompression     string // none/snappy/lz4/zstd
	KafkaVersion            sarama.KafkaVersion
	AutoCreateTopicsOnStart bool
}

// DefaultConfig 默认配置；Brokers/Topics 由调用方填
func DefaultConfig(brokers []string, topics ...string) AppConfig {
	return AppConfig{
		Brokers:                 brokers,
		Topics:                  topics,
		PartitionsPerTopic:      8,
		ReplicationFactor:       1,
		ProducerRetries:         5,
		ProducerCompression:     "snappy",
		KafkaVersion:            sarama.V2_1_0_0,
		AutoCreateTopicsOnStart: true,
	}
}
