package handlers

import (
	"PRealtime/service/chat"
	"PRealtime/tools/decode"
	"PRealtime/tools/errs"
)

type RoomPayload struct {
	ChatID string `json:"chatId" validate:"required"`
}

type JoinRoomHandler struct{ d *Deps }

func NewJoinRoomHandler(d *Deps) chat.Handler { return &JoinRoomHandler{d: d} }
func (h *JoinRoomHandler) Type() string       { return chat.EventJoinRoom }

func (h *JoinRoomHandler) Handle(c *chat.Context) error {
	p, err := decode.Payload[RoomPayload](c.Data, decode.WithBareKey("chatId"))
	if err != nil {
		return err
	}
	if !h.d.Hub.Join(c.ConnID(), p.ChatID) {
		return errs.ErrConnectionClosed.WrapMsg("join-room", "chatId", p.ChatID)
	}
	c.Reply(chat.Frame{Event: chat.EventRoomJoined, Data: p})
	return nil
}

type LeaveRoomHandler struct{ d *Deps }

func NewLeaveRoomHandler(d *Deps) chat.Handler { return &LeaveRoomHandler{d: d} }
func (h *LeaveRoomHandler) Type() string       { return chat.EventLeaveRoom }

func (h *LeaveRoomHandler) Handle(c *chat.Context) error {
	p, err := decode.Payload[RoomPayload](c.Data, decode.WithBareKey("chatId"))
	if err != nil {
		return err
	}
	h.d.Hub.Leave(c.ConnID(), p.ChatID)
	return nil
}
