package handlers

import (
	"PRealtime/service/chat"
	"PRealtime/service/journal"
	"PRealtime/tools/decode"

	"go.uber.org/zap"
)

type RegisterPayload struct {
	UserID string `json:"userId" validate:"required"`
}

type RegisterHandler struct{ d *Deps }

func NewRegisterHandler(d *Deps) chat.Handler { return &RegisterHandler{d: d} }
func (h *RegisterHandler) Type() string       { return chat.EventRegister }

// Handle register / register-user：绑定身份，自动加入所在会话的房间
func (h *RegisterHandler) Handle(c *chat.Context) error {
	p, err := decode.Payload[RegisterPayload](c.Data, decode.WithBareKey("userId"))
	if err != nil {
		return err
	}
	d := h.d
	prevUser := c.UserID()

	reg, err := d.Presence.Register(p.UserID, c.ConnID())
	if err != nil {
		return err
	}
	if reg.Evicted {
		d.Metrics.Eviction()
	}
	d.record(c, c.ConnID(), p.UserID, journal.KindRegister)

	// 同一连接换了身份：房间按新身份重建，旧身份若已无连接则广播离线
	if prevUser != "" && prevUser != p.UserID {
		d.leaveRooms(c.Session)
		if !d.Presence.IsOnline(prevUser) {
			d.wentOffline(c, prevUser, c.ConnID())
		}
	}

	ctx, cancel := d.external(c)
	chats, err := d.Store.ChatsOf(ctx, p.UserID)
	cancel()
	if err != nil {
		c.Log.Error("auto-join rooms failed", zap.String("userId", p.UserID), zap.Error(err))
	}
	for _, ch := range chats {
		d.Hub.Join(c.ConnID(), ch.ID)
	}

	c.Reply(chat.Frame{Event: chat.EventRegistrationVerified, Data: chat.RegistrationAck{
		UserID:       p.UserID,
		ConnectionID: c.ConnID(),
		Rooms:        c.Session.Rooms(),
		Node:         d.Hub.NodeID(),
	}})

	// 重复注册不重复广播上线
	if !reg.WasOnline {
		d.userStatus(c, p.UserID, true, nil, "")
	}
	c.Log.Info("user registered", zap.String("userId", p.UserID),
		zap.Int("rooms", len(chats)), zap.Bool("evicted", reg.Evicted))
	return nil
}
