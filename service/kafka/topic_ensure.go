package kafka

import (
	"errors"

	"PRealtime/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// TopicAdmin 是 sarama.ClusterAdmin 里建 topic 用到的部分
type TopicAdmin interface {
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
}

// EnsureTopics 不存在就按配置创建；已存在则跳过
func EnsureTopics(admin TopicAdmin, c AppConfig, log *zap.Logger) error {
	minISR := "1"
	if c.ReplicationFactor >= 3 {
		minISR = "2" // 生产更安全：rf>=3 则至少 2
	}
	for _, t := range c.Topics {
		desc, err := admin.DescribeTopics([]string{t})
		if err == nil && len(desc) == 1 && desc[0].Err == sarama.ErrNoError {
			log.Debug("topic exists", zap.String("topic", t), zap.Int("partitions", len(desc[0].Partitions)))
			continue
		}
		td := &sarama.TopicDetail{
			NumPartitions:     c.PartitionsPerTopic,
			ReplicationFactor: c.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			var te *sarama.TopicError
			if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
				continue
			}
			if errors.Is(err, sarama.ErrTopicAlreadyExists) {
				continue
			}
			return errs.WrapMsg(err, "create topic", "topic", t)
		}
		log.Info("topic created", zap.String("topic", t), zap.Int32("partitions", c.PartitionsPerTopic))
	}
	return nil
}

func strPtr(s string) *string { return &s }
