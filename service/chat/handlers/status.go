package handlers

import (
	"PRealtime/module/chat/model"
	"PRealtime/service/chat"
	"PRealtime/service/natsx"
	"PRealtime/tools/decode"
	"PRealtime/tools/errs"

	"go.uber.org/zap"
)

type MarkerPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	ChatID    string `json:"chatId"`
}

// StatusUpdate message-status-update
type StatusUpdate struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type MarkerHandler struct {
	d     *Deps
	event string
}

// NewMarkerHandler event 为 message-delivered 或 message-read
func NewMarkerHandler(d *Deps, event string) chat.Handler {
	return &MarkerHandler{d: d, event: event}
}
func (h *MarkerHandler) Type() string { return h.event }

// Handle 每个 (消息, 用户) 只记一次；重复标记不产生任何输出
func (h *MarkerHandler) Handle(c *chat.Context) error {
	p, err := decode.Payload[MarkerPayload](c.Data)
	if err != nil {
		return err
	}
	d := h.d

	ctx, cancel := d.external(c)
	defer cancel()
	msg, err := d.Store.GetMessage(ctx, p.MessageID)
	if errs.Code(err) == errs.NotFound {
		// 常见于 REST 已删除该消息
		c.Log.Debug("marker for unknown message skipped", zap.String("messageId", p.MessageID))
		return nil
	}
	if err != nil {
		return err
	}
	if msg.SenderID == p.UserID {
		return nil
	}

	status := model.StatusDelivered
	var changed bool
	if h.event == chat.EventMessageRead {
		status = model.StatusRead
		changed, err = d.Store.MarkRead(ctx, p.MessageID, p.UserID)
	} else {
		changed, err = d.Store.MarkDelivered(ctx, p.MessageID, p.UserID)
	}
	if err != nil {
		c.Log.Error("persist marker failed", zap.String("userId", p.UserID),
			zap.String("messageId", p.MessageID), zap.Error(err))
		return nil
	}
	if !changed {
		return nil
	}

	room := p.ChatID
	if room == "" {
		room = msg.ChatID
	}
	update := StatusUpdate{MessageID: p.MessageID, Status: status, UserID: p.UserID, Timestamp: d.Clock().UnixMilli()}
	f := chat.Frame{Event: chat.EventMessageStatusUpdate, Data: update}
	d.Hub.BroadcastRoom(room, f, c.ConnID())

	if status == model.StatusRead {
		for _, t := range d.Delivery.ResolveRecipients([]string{msg.SenderID}) {
			if t.Reachable {
				d.Hub.Unicast(t.ConnectionID, f)
			}
		}
	}
	d.publish(c, natsx.KindMessageStatus, update)
	return nil
}

type SyncStatusPayload struct {
	ChatID string `json:"chatId" validate:"required"`
	Limit  int    `json:"limit"`
}

type SyncStatusHandler struct{ d *Deps }

func NewSyncStatusHandler(d *Deps) chat.Handler { return &SyncStatusHandler{d: d} }
func (h *SyncStatusHandler) Type() string       { return chat.EventSyncMessageStatus }

// Handle 客户端重连后拉取最近消息的状态，逐条回给发送方
func (h *SyncStatusHandler) Handle(c *chat.Context) error {
	p, err := decode.Payload[SyncStatusPayload](c.Data, decode.WithBareKey("chatId"))
	if err != nil {
		return err
	}
	limit := h.d.SyncStatusLimit
	if p.Limit > 0 && p.Limit < limit {
		limit = p.Limit
	}

	ctx, cancel := h.d.external(c)
	msgs, err := h.d.Store.RecentMessages(ctx, p.ChatID, limit)
	cancel()
	if err != nil {
		return err
	}
	now := h.d.Clock().UnixMilli()
	for _, m := range msgs {
		c.Reply(chat.Frame{Event: chat.EventMessageStatusUpdate, Data: StatusUpdate{
			MessageID: m.ID, Status: m.Status(), Timestamp: now,
		}})
	}
	return nil
}
