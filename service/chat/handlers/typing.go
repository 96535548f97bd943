package handlers

import (
	"PRealtime/service/chat"
	"PRealtime/tools/decode"
	"PRealtime/tools/errs"
)

type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	// 老客户端: typing{chatID, sender}
	LegacyChatID string `json:"chatID"`
	Sender       string `json:"sender"`
}

type TypingHandler struct {
	d     *Deps
	event string
}

// NewTypingHandler event 为 typing-start、typing-stop 或老的 typing
func NewTypingHandler(d *Deps, event string) chat.Handler {
	return &TypingHandler{d: d, event: event}
}
func (h *TypingHandler) Type() string { return h.event }

// Handle 不落库，只做房间广播（排除发送者）
func (h *TypingHandler) Handle(c *chat.Context) error {
	p, err := decode.Payload[TypingPayload](c.Data)
	if err != nil {
		return err
	}
	chatID, userID := p.ChatID, p.UserID
	if h.event == chat.EventTyping {
		if chatID == "" {
			chatID = p.LegacyChatID
		}
		if userID == "" {
			userID = p.Sender
		}
	}
	if chatID == "" || userID == "" {
		return errs.ErrMalformedEvent.WrapMsg("chatId and userId are required")
	}

	// 老客户端只监听 typing{sender}
	if h.event == chat.EventTyping {
		h.d.Hub.BroadcastRoom(chatID, chat.Frame{Event: chat.EventTyping, Data: map[string]any{"sender": userID}}, c.ConnID())
		return nil
	}
	data := map[string]any{
		"chatId":   chatID,
		"userId":   userID,
		"isTyping": h.event != chat.EventTypingStop,
	}
	h.d.Hub.BroadcastRoom(chatID, chat.Frame{Event: chat.EventUserTyping, Data: data}, c.ConnID())
	return nil
}
