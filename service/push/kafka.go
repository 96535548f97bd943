package push

import (
	"context"
	"encoding/json"

	"PRealtime/tools/errs"

	"github.com/Shopify/sarama"
)

// KafkaSender 把推送任务投递到 topic，由独立的推送服务消费；key=userId 保证同一用户有序
type KafkaSender struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSender(p sarama.SyncProducer, topic string) *KafkaSender {
	return &KafkaSender{producer: p, topic: topic}
}

func (s *KafkaSender) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "encode push job")
	}
	key := n.UserID
	if key == "" {
		key = n.Token
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return errs.ErrExternal.WrapMsg("kafka push enqueue", "topic", s.topic, "err", err)
	}
	return nil
}
