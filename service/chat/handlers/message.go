package handlers

import (
	"context"
	"time"

	"PRealtime/module/chat/model"
	"PRealtime/service/chat"
	"PRealtime/service/delivery"
	"PRealtime/service/natsx"
	"PRealtime/tools/decode"
	"PRealtime/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultPushBody = "You have a new message"

type SendMessagePayload struct {
	ID            string        `json:"_id"`
	ChatID        string        `json:"chatID" validate:"required"`
	SenderID      string        `json:"senderID" validate:"required"`
	SenderName    string        `json:"senderName"`
	ReceiverID    string        `json:"receiverID"` // 老客户端只给单聊对端
	Text          string        `json:"text"`
	MessageStatus string        `json:"messageStatus"`
	Media         []model.Media `json:"media"`
}

type SendMessageHandler struct{ d *Deps }

func NewSendMessageHandler(d *Deps) chat.Handler { return &SendMessageHandler{d: d} }
func (h *SendMessageHandler) Type() string       { return chat.EventSendMessage }

// Handle 先房间广播，再持久化、解析接收者、单播会话列表更新、离线推送。
// 持久化失败不回滚已经发出的广播。
func (h *SendMessageHandler) Handle(c *chat.Context) error {
	p, err := decode.Payload[SendMessagePayload](c.Data)
	if err != nil {
		return err
	}
	raw, err := decode.ToMap(c.Data, "")
	if err != nil {
		return err
	}
	d := h.d
	now := d.Clock().UTC()

	// 没有 _id 说明没走 REST 落库，由网关生成并落库
	persisted := p.ID != ""
	if !persisted {
		p.ID = uuid.NewString()
		raw["_id"] = p.ID
	}
	if _, ok := raw["createAt"]; !ok {
		raw["createAt"] = now
	}

	d.Hub.BroadcastRoom(p.ChatID, chat.Frame{Event: chat.EventReceiveMessage, Data: raw}, "")

	h.persist(c, p, persisted, now)

	targets, ok := h.resolve(c, p)
	if !ok {
		return nil
	}

	update := chat.Frame{Event: chat.EventChatListUpdate, Data: map[string]any{
		"chatId":      p.ChatID,
		"lastMessage": raw,
		"updatedAt":   now,
	}}
	var (
		online, pushed int
		notice         *delivery.Notice
	)
	for _, t := range targets {
		if t.Reachable {
			if d.Hub.Unicast(t.ConnectionID, update) {
				online++
			}
			continue
		}
		if notice == nil {
			notice = h.notice(c, p)
		}
		if d.Delivery.Notify(c, t.RecipientID, *notice) {
			pushed++
		}
	}

	d.publish(c, natsx.KindMessageSent, map[string]any{
		"messageId": p.ID, "chatId": p.ChatID, "senderId": p.SenderID, "createAt": raw["createAt"],
	})
	c.Log.Debug("message fanned out", zap.String("messageId", p.ID),
		zap.Int("targets", len(targets)), zap.Int("online", online), zap.Int("pushed", pushed))
	return nil
}

func (h *SendMessageHandler) persist(c *chat.Context, p *SendMessagePayload, persisted bool, now time.Time) {
	d := h.d
	ctx, cancel := d.external(c)
	defer cancel()

	if !persisted {
		status := p.MessageStatus
		if status == "" {
			status = model.MessageStatusSend
		}
		err := d.Store.CreateMessage(ctx, &model.Message{
			ID:            p.ID,
			ChatID:        p.ChatID,
			SenderID:      p.SenderID,
			Text:          p.Text,
			MessageStatus: status,
			Media:         p.Media,
			CreatedAt:     now,
		})
		if err != nil {
			c.Log.Error("persist message failed", zap.String("userId", p.SenderID),
				zap.String("messageId", p.ID), zap.Error(err))
			return
		}
	}
	if err := d.Store.TouchChat(ctx, p.ChatID, p.ID, now); err != nil {
		c.Log.Error("touch chat failed", zap.String("userId", p.SenderID),
			zap.String("chatId", p.ChatID), zap.Error(err))
	}
}

// resolve 会话不存在时退回到 receiverID
func (h *SendMessageHandler) resolve(c *chat.Context, p *SendMessagePayload) ([]delivery.Target, bool) {
	ctx, cancel := h.d.external(c)
	res, err := h.d.Delivery.Resolve(ctx, p.ChatID, p.SenderID)
	cancel()
	if err == nil {
		return res.Targets, true
	}
	if errs.Code(err) == errs.NotFound && p.ReceiverID != "" && p.ReceiverID != p.SenderID {
		return h.d.Delivery.ResolveRecipients([]string{p.ReceiverID}), true
	}
	c.Log.Error("resolve recipients failed", zap.String("userId", p.SenderID),
		zap.String("chatId", p.ChatID), zap.Error(err))
	return nil, false
}

// notice 推送：{title, body, data:{chatId, senderId, messageId}}
func (h *SendMessageHandler) notice(ctx context.Context, p *SendMessagePayload) *delivery.Notice {
	n := &delivery.Notice{
		Title: "New message from " + h.senderName(ctx, p),
		Body:  p.Text,
		Data:  map[string]string{"chatId": p.ChatID, "senderId": p.SenderID, "messageId": p.ID},
	}
	if n.Body == "" {
		n.Body = defaultPushBody
	}
	return n
}

func (h *SendMessageHandler) senderName(ctx context.Context, p *SendMessagePayload) string {
	if p.SenderName != "" {
		return p.SenderName
	}
	ctx, cancel := h.d.external(ctx)
	defer cancel()
	if acc, err := h.d.Store.GetAccount(ctx, p.SenderID); err == nil && acc.DisplayName() != "" {
		return acc.DisplayName()
	}
	return p.SenderID
}
