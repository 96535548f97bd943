package handlers

import (
	"PRealtime/module/chat/model"
	"PRealtime/service/chat"
	"PRealtime/service/delivery"
	"PRealtime/tools/decode"

	"go.uber.org/zap"
)

type ReactionPayload struct {
	ChatID    string `json:"chatId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	Emoji     string `json:"emoji" validate:"required"`
	UserName  string `json:"userName"`
}

type ReactionHandler struct {
	d     *Deps
	event string
}

// NewReactionHandler event 为 reaction-added 或 reaction-removed
func NewReactionHandler(d *Deps, event string) chat.Handler {
	return &ReactionHandler{d: d, event: event}
}
func (h *ReactionHandler) Type() string { return h.event }

// Handle 落库后房间广播（排除发送者）+ 逐个参与者单播 + 离线推送
func (h *ReactionHandler) Handle(c *chat.Context) error {
	p, err := decode.Payload[ReactionPayload](c.Data)
	if err != nil {
		return err
	}
	d := h.d
	now := d.Clock().UTC()
	r := model.Reaction{MessageID: p.MessageID, UserID: p.UserID, Emoji: p.Emoji, CreatedAt: now}

	ctx, cancel := d.external(c)
	if h.event == chat.EventReactionAdded {
		_, err = d.Store.AddReaction(ctx, r)
	} else {
		_, err = d.Store.RemoveReaction(ctx, r)
	}
	cancel()
	if err != nil {
		c.Log.Error("persist reaction failed", zap.String("userId", p.UserID),
			zap.String("messageId", p.MessageID), zap.Error(err))
	}

	f := chat.Frame{Event: h.event, Data: map[string]any{
		"chatId":    p.ChatID,
		"messageId": p.MessageID,
		"userId":    p.UserID,
		"emoji":     p.Emoji,
		"timestamp": now.UnixMilli(),
	}}
	d.Hub.BroadcastRoom(p.ChatID, f, c.ConnID())

	ctx, cancel = d.external(c)
	res, err := d.Delivery.Resolve(ctx, p.ChatID, p.UserID)
	cancel()
	if err != nil {
		c.Log.Error("resolve reaction recipients failed", zap.String("userId", p.UserID),
			zap.String("chatId", p.ChatID), zap.Error(err))
		return nil
	}

	for _, t := range res.Online() {
		d.Hub.Unicast(t.ConnectionID, f)
	}
	// 只有新增表情才推送
	if h.event != chat.EventReactionAdded {
		return nil
	}
	name := p.UserName
	if name == "" {
		name = p.UserID
	}
	d.Delivery.NotifyOffline(c, res.Targets, delivery.Notice{
		Title: "New reaction",
		Body:  name + " reacted " + p.Emoji + " to a message",
		Data:  map[string]string{"chatId": p.ChatID, "senderId": p.UserID, "messageId": p.MessageID, "type": "reaction"},
	})
	return nil
}
