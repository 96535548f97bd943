package handlers

import (
	"PRealtime/service/chat"
	"PRealtime/service/journal"
	"PRealtime/tools/decode"
	"PRealtime/tools/errs"

	"go.uber.org/zap"
)

type LogoutHandler struct{ d *Deps }

func NewLogoutHandler(d *Deps) chat.Handler { return &LogoutHandler{d: d} }
func (h *LogoutHandler) Type() string       { return chat.EventUserLogout }

// Handle 显式登出：解绑（连接保持打开），记录 lastOnline，广播离线
func (h *LogoutHandler) Handle(c *chat.Context) error {
	userID := c.UserID()
	if len(c.Data) > 0 && string(c.Data) != "null" {
		m, err := decode.ToMap(c.Data, "userId")
		if err != nil {
			return err
		}
		if uid, ok := decode.ReadString(m, "userId"); ok {
			userID = uid
		}
	}
	if userID == "" {
		return errs.ErrMalformedEvent.WrapMsg("userId is required")
	}

	connID, ok := h.d.Presence.Unregister(userID)
	if !ok {
		// 重复登出：没有绑定，不再记 lastOnline 也不再广播
		c.Log.Debug("logout without binding", zap.String("userId", userID))
		return nil
	}
	if connID == c.ConnID() {
		h.d.leaveRooms(c.Session)
	}
	h.d.record(c, c.ConnID(), userID, journal.KindLogout)
	h.d.wentOffline(c, userID, "")
	c.Log.Info("user logged out", zap.String("userId", userID), zap.String("boundConn", connID))
	return nil
}
