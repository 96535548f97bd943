package push

import (
	"context"

	"PRealtime/tools/errs"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// MessagingClient 是 *messaging.Client 用到的部分
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender 通过 Firebase Cloud Messaging 下发
type FCMSender struct {
	client MessagingClient
}

func NewFCMSender(client MessagingClient) *FCMSender {
	return &FCMSender{client: client}
}

// NewFCMSenderFromFile 用 service account 凭证文件初始化 firebase app
func NewFCMSenderFromFile(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, errs.WrapMsg(err, "firebase app")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errs.WrapMsg(err, "firebase messaging")
	}
	return NewFCMSender(client), nil
}

func (s *FCMSender) Send(ctx context.Context, n Notification) error {
	if n.Token == "" {
		return errs.ErrMalformedEvent.WrapMsg("push without token", "userId", n.UserID)
	}
	_, err := s.client.Send(ctx, &messaging.Message{
		Token:        n.Token,
		Notification: &messaging.Notification{Title: n.Title, Body: n.Body},
		Data:         n.Data,
	})
	if err != nil {
		return errs.ErrExternal.WrapMsg("fcm send", "userId", n.UserID, "err", err)
	}
	return nil
}
