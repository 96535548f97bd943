package push

import (
	"context"

	"go.uber.org/zap"
)

// Notification 离线推送：{token, title, body, data}
type Notification struct {
	UserID string            `json:"userId,omitempty"`
	Token  string            `json:"token"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

//go:generate mockgen -source=push.go -destination=../../mocks/mock_push_sender.go -package=mocks Sender

// Sender 推送通道。错误由调用方记录后吞掉，不回给客户端。
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender 只打日志（开发环境）
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log.Named("push")}
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.log.Info("push notification",
		zap.String("userId", n.UserID),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Any("data", n.Data))
	return nil
}
