package handlers

import (
	"context"

	"PRealtime/service/chat"
	"PRealtime/service/journal"

	"go.uber.org/zap"
)

// NewDisconnectHook 连接关闭回调，每条连接只执行一次
func NewDisconnectHook(d *Deps) chat.CloseHook {
	return func(info chat.SessionInfo) {
		ctx := context.Background()
		d.Metrics.ConnClosed()

		userID, ok := d.Presence.UnregisterByConnection(info.ID)
		if !ok && info.UserID != "" && !d.Presence.IsOnline(info.UserID) {
			// registry 已被懒清理，但连接上仍绑着这个用户
			userID, ok = info.UserID, true
		}
		d.record(ctx, info.ID, userID, journal.KindClose)
		if !ok {
			return
		}
		d.wentOffline(ctx, userID, info.ID)
		d.Log.Info("user disconnected", zap.String("userId", userID),
			zap.String("conn", info.ID), zap.String("reason", info.Reason))
	}
}
